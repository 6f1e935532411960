package attendance

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
)

const notApplicable = "N/A"

var csvHeader = []string{
	"Student Name", "Student ID", "Course", "Date", "Time", "Status", "Permission", "Permission Status", "Verified",
}

// ExportFilename returns the download name of an export made at now.
func ExportFilename(now time.Time) string {
	return "attendance_" + core.FormatDate(now) + ".csv"
}

// WriteCSV writes records as CSV (header first) to w.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, rec := range records {
		if err := cw.Write(csvRow(rec)); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec Record) []string {
	permission := notApplicable
	permissionStatus := notApplicable
	if rec.Status == StatusAbsent {
		if rec.HasPermission {
			permission = "With Permission"
			permissionStatus = title(rec.PermissionStatus.String)
			if permissionStatus == "" {
				permissionStatus = title(PermissionPending)
			}
		} else {
			permission = "Without Permission"
		}
	}

	course := rec.CourseName
	if course == "" {
		course = notApplicable
	}
	verified := "No"
	if rec.Verified {
		verified = "Yes"
	}

	return []string{
		rec.StudentName,
		rec.StudentNumber,
		course,
		rec.Date,
		rec.ArrivalTime.String,
		title(rec.Status),
		permission,
		permissionStatus,
		verified,
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
	"github.com/trezcool/attendance/storage/database"
)

// PrepareDB opens a fresh, migrated in-memory sqlite database, closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	conf := core.NewTestConfig()
	conf.Database.Engine = database.SQLite
	conf.Database.Path = "file:" + strings.ReplaceAll(uuid.New().String(), "-", "") + "?mode=memory&cache=shared"

	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func CreateStudent(t *testing.T, repo student.Repository, name, studentID, email, dept string, year int) student.Student {
	now := time.Now().UTC()
	std, err := repo.CreateStudent(context.Background(), student.Student{
		ID:             uuid.New().String(),
		Name:           name,
		StudentID:      studentID,
		Email:          email,
		Department:     dept,
		Year:           year,
		EnrollmentDate: core.FormatDate(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateStudent(): %v", err)
	}
	return std
}

func CreateCourse(t *testing.T, repo course.Repository, code, name, dept string, teacherID *string) course.Course {
	now := time.Now().UTC()
	crs, err := repo.CreateCourse(context.Background(), course.Course{
		ID:         uuid.New().String(),
		Code:       code,
		Name:       name,
		Department: dept,
		TeacherID:  teacherID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateCourse(): %v", err)
	}
	return crs
}

func CreateDevice(t *testing.T, repo device.Repository, name, apiKey, status string) device.Device {
	now := time.Now().UTC()
	dev := device.Device{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      device.TypeCamera,
		Location:  "Main Entrance",
		IP:        "192.168.1.101",
		Status:    status,
		APIKey:    apiKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == device.StatusOnline {
		dev.LastSeen = null.TimeFrom(now)
	}
	dev, err := repo.CreateDevice(context.Background(), dev)
	if err != nil {
		t.Fatalf("CreateDevice(): %v", err)
	}
	return dev
}

// CreateRecord inserts a manual record. arrival is ignored unless status is present or pending.
func CreateRecord(
	t *testing.T,
	repo attendance.Repository,
	std student.Student,
	date, arrival, status string,
	verified bool,
) attendance.Record {
	now := time.Now().UTC()
	rec := attendance.Record{
		ID:            uuid.New().String(),
		StudentID:     std.ID,
		StudentName:   std.Name,
		StudentNumber: std.StudentID,
		Date:          date,
		Status:        status,
		Verified:      verified,
		Source:        attendance.SourceManual,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status != attendance.StatusAbsent {
		rec.ArrivalTime = null.StringFrom(arrival)
	}
	rec, err := repo.CreateRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateRecord(): %v", err)
	}
	return rec
}

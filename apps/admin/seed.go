package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
)

const seedAdminEmail = "admin@astu.edu"

var (
	seedCourses = []course.NewCourse{
		{Code: "MSE2101", Name: "Introduction to Materials Science", Department: "Material Science"},
		{Code: "MSE3204", Name: "Mechanical Behavior of Materials", Department: "Material Science"},
		{Code: "ECON2011", Name: "Microeconomics", Department: "Economics"},
	}

	seedStudents = []student.NewStudent{
		{Name: "John Doe", StudentID: "ASTU/1234/20", Email: "john.doe@astu.edu", Department: "Material Science", Year: 3, EnrollmentDate: "2020-09-01"},
		{Name: "Jane Smith", StudentID: "ASTU/1235/20", Email: "jane.smith@astu.edu", Department: "Material Science", Year: 3, EnrollmentDate: "2020-09-01"},
		{Name: "Mike Johnson", StudentID: "ASTU/1236/20", Email: "mike.johnson@astu.edu", Department: "Economics", Year: 4, EnrollmentDate: "2019-09-01"},
		{Name: "Sarah Wilson", StudentID: "ASTU/1237/20", Email: "sarah.wilson@astu.edu", Department: "Material Science", Year: 2, EnrollmentDate: "2021-09-01"},
	}

	seedDevices = []device.NewDevice{
		{Name: "Raspberry Pi - Room 101", Type: device.TypeCamera, Location: "Room 101", IP: "192.168.1.100"},
		{Name: "ESP32 - Main Gate", Type: device.TypeAccessControl, Location: "Main Gate", IP: "192.168.1.101"},
		{Name: "Raspberry Pi - Library", Type: device.TypeCamera, Location: "Library", IP: "192.168.1.102"},
	}
)

// alreadySeeded reports whether err only says the object exists already.
func alreadySeeded(err error) bool {
	var verr *core.ValidationError
	return errors.As(err, &verr) || core.IsConflict(err)
}

// seed loads demo data. It can be run more than once: existing objects are skipped.
func (cli *commandLine) seed(ctx context.Context, adminPwd string) error {
	if err := cli.addUser(ctx, seedAdminEmail, "Administrator", user.RoleAdmin, adminPwd); err != nil {
		return errors.Wrap(err, "seeding admin")
	}

	coursesByDept := make(map[string][]course.Course)
	for _, nc := range seedCourses {
		if err := nc.Validate(cli.validate); err != nil {
			return err
		}
		crs, err := cli.crsSvc.Create(ctx, nc)
		if err != nil {
			if alreadySeeded(err) {
				cli.printf("course %s exists, skipped\n", nc.Code)
				continue
			}
			return errors.Wrapf(err, "seeding course %s", nc.Code)
		}
		coursesByDept[crs.Department] = append(coursesByDept[crs.Department], crs)
		cli.printf("course %s added\n", crs.Code)
	}

	for _, ns := range seedStudents {
		if err := ns.Validate(cli.validate); err != nil {
			return err
		}
		std, err := cli.stdSvc.Create(ctx, ns)
		if err != nil {
			if alreadySeeded(err) {
				cli.printf("student %s exists, skipped\n", ns.StudentID)
				continue
			}
			return errors.Wrapf(err, "seeding student %s", ns.StudentID)
		}
		cli.printf("student %s added\n", std.StudentID)

		for _, crs := range coursesByDept[std.Department] {
			_, err := cli.stdSvc.Enroll(ctx, student.Enrollment{StudentID: std.ID, CourseID: crs.ID})
			if err != nil && !alreadySeeded(err) {
				return errors.Wrapf(err, "enrolling %s in %s", std.StudentID, crs.Code)
			}
		}
	}

	for _, nd := range seedDevices {
		if err := nd.Validate(cli.validate); err != nil {
			return err
		}
		dev, err := cli.devSvc.Create(ctx, nd)
		if err != nil {
			if alreadySeeded(err) {
				cli.printf("device %q exists, skipped\n", nd.Name)
				continue
			}
			return errors.Wrapf(err, "seeding device %q", nd.Name)
		}
		cli.printf("device %q added, API key: %s\n", dev.Name, dev.APIKey)
	}
	return nil
}

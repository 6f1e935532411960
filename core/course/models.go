package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/attendance/core"
)

type Course struct {
	ID         string    `json:"id" db:"id"`
	Code       string    `json:"code" db:"code"`
	Name       string    `json:"name" db:"name"`
	Department string    `json:"department" db:"department"`
	TeacherID  *string   `json:"teacher_id" db:"teacher_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// NewCourse contains information needed to create (or fully update) a Course.
type NewCourse struct {
	Code       string  `json:"code" validate:"required,max=20"`
	Name       string  `json:"name" validate:"required,notblank"`
	Department string  `json:"department" validate:"required"`
	TeacherID  *string `json:"teacher_id" validate:"omitempty,uuid"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code)
	nc.Name = core.CleanString(nc.Name)
	nc.Department = core.CleanString(nc.Department)
	if nc.TeacherID != nil {
		if tid := core.CleanString(*nc.TeacherID); tid != "" {
			nc.TeacherID = &tid
		} else {
			nc.TeacherID = nil
		}
	}
	return validate.Struct(nc)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Department string `query:"department"`
	TeacherID  string `query:"teacher_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Department = core.CleanString(qf.Department)
	qf.TeacherID = core.CleanString(qf.TeacherID)
}

package student

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/attendance/core"
)

func newValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func Test_cleanRegNo(t *testing.T) {
	assert.Equal(t, "UGR/35183/16", cleanRegNo(" ugr/35183/16 "))
	assert.Equal(t, "ASTU/1234/20", cleanRegNo("ASTU/1234/20"))
}

func TestNewStudent_Validate(t *testing.T) {
	validate := newValidator()

	tests := []struct {
		name    string
		ns      NewStudent
		wantErr bool
	}{
		{
			name: "valid",
			ns:   NewStudent{Name: " John  Doe ", StudentID: "astu/1234/20", Email: "John.Doe@ASTU.edu", Department: "Material Science", Year: 3},
		},
		{
			name:    "bad registration number",
			ns:      NewStudent{Name: "John Doe", StudentID: "1234-20", Email: "john@astu.edu", Department: "Economics", Year: 1},
			wantErr: true,
		},
		{
			name:    "year out of range",
			ns:      NewStudent{Name: "John Doe", StudentID: "ASTU/1234/20", Email: "john@astu.edu", Department: "Economics", Year: 8},
			wantErr: true,
		},
		{
			name:    "bad enrollment date",
			ns:      NewStudent{Name: "John Doe", StudentID: "ASTU/1234/20", Email: "john@astu.edu", Department: "Economics", Year: 2, EnrollmentDate: "09/01/2020"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ns.Validate(validate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ASTU/1234/20", tt.ns.StudentID)
			assert.Equal(t, "john.doe@astu.edu", tt.ns.Email)
		})
	}
}

func TestUpdateStudent_Validate(t *testing.T) {
	validate := newValidator()

	regNo, blank := " pgr/0450/22", "   "
	us := UpdateStudent{StudentID: &regNo}
	require.NoError(t, us.Validate(validate))
	assert.Equal(t, "PGR/0450/22", *us.StudentID)
	assert.Nil(t, us.Name, "nil fields are left unchanged")

	us = UpdateStudent{Name: &blank}
	assert.Error(t, us.Validate(validate))
}

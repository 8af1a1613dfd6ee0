package service

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// NewValidator returns a validator with the domain tags registered:
// attendance_status accepts PRESENT, ABSENT, LATE or EXCUSED in any case.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return v
}

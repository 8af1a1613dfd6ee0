package service

import (
	"regexp"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

const (
	msgInvalidTimeFormat = "invalid time format"
	msgStartAfterEnd     = "start must precede end"
	msgInvalidDay        = "invalid day of week"
	msgGroupConflict     = "group already has a class in this slot"
	msgTeacherConflict   = "teacher already has a class in this slot"
)

// ValidTime reports whether v is a zero-padded 24h "HH:MM" value.
func ValidTime(v string) bool {
	return hhmmPattern.MatchString(v)
}

// SlotsOverlap applies the half-open interval rule: touching endpoints do not overlap.
// Inputs must be zero-padded "HH:MM" so string comparison orders them correctly.
func SlotsOverlap(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && bStart < aEnd
}

// ValidateSlot decides whether candidate may be stored next to existing, which holds
// same-day slots sharing the candidate's group or teacher. Checks stop at the first failure:
// time format, ordering, day range, group overlap, then teacher overlap.
func ValidateSlot(candidate models.SlotCandidate, existing []models.Schedule) error {
	if !ValidTime(candidate.StartTime) || !ValidTime(candidate.EndTime) {
		return appErrors.Clone(appErrors.ErrValidation, msgInvalidTimeFormat)
	}
	if candidate.StartTime >= candidate.EndTime {
		return appErrors.Clone(appErrors.ErrValidation, msgStartAfterEnd)
	}
	if candidate.DayOfWeek < 1 || candidate.DayOfWeek > 7 {
		return appErrors.Clone(appErrors.ErrValidation, msgInvalidDay)
	}

	if clash := findOverlap(candidate, existing, func(s models.Schedule) bool {
		return s.GroupID == candidate.GroupID
	}); clash != nil {
		return conflictError(models.ConflictDimensionGroup, msgGroupConflict, *clash)
	}

	if candidate.HasTeacher() {
		if clash := findOverlap(candidate, existing, func(s models.Schedule) bool {
			return s.TeacherID != nil && *s.TeacherID == *candidate.TeacherID
		}); clash != nil {
			return conflictError(models.ConflictDimensionTeacher, msgTeacherConflict, *clash)
		}
	}
	return nil
}

func findOverlap(candidate models.SlotCandidate, existing []models.Schedule, sameDimension func(models.Schedule) bool) *models.Schedule {
	for i := range existing {
		slot := existing[i]
		if candidate.ID != "" && slot.ID == candidate.ID {
			continue
		}
		if slot.DayOfWeek != candidate.DayOfWeek || !sameDimension(slot) {
			continue
		}
		if SlotsOverlap(candidate.StartTime, candidate.EndTime, slot.StartTime, slot.EndTime) {
			return &existing[i]
		}
	}
	return nil
}

func conflictError(dimension, message string, clash models.Schedule) error {
	conflict := models.ScheduleConflict{
		ScheduleID: clash.ID,
		GroupID:    clash.GroupID,
		TeacherID:  clash.TeacherID,
		DayOfWeek:  clash.DayOfWeek,
		StartTime:  clash.StartTime,
		EndTime:    clash.EndTime,
		Dimension:  dimension,
	}
	appErr := appErrors.Clone(appErrors.ErrConflict, message)
	appErr.Details = conflict
	appErr.Err = &models.ScheduleConflictError{Message: message, Conflict: conflict}
	return appErr
}

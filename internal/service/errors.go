package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrCapacity   = errors.New("requested window is outside the doctor's availability")
	ErrConflict   = errors.New("requested window overlaps an existing booking")
	ErrNotFound   = errors.New("not found")
	// ErrTemplateOverlap is a validation error: errors.Is(err, ErrValidation) holds for it.
	ErrTemplateOverlap = fmt.Errorf("%w: overlaps another active template of the same weekday", ErrValidation)
	ErrSlotExists      = errors.New("availability slot already exists")
)

// validationError turns validator output into an ErrValidation-wrapped message.
func validationError(err error) error {
	return fmt.Errorf("%w: %s", ErrValidation, validationMessage(err))
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

package core

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewValidationErrorFromValidator translates validator errors into a ValidationError.
// Any other error is returned untouched.
func NewValidationErrorFromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	flds := make([]FieldError, 0, len(verrs))
	for _, verr := range verrs {
		msg := verr.Error()
		if Translator != nil {
			msg = verr.Translate(Translator)
		}
		flds = append(flds, FieldError{Field: verr.Field(), Error: msg})
	}
	return NewValidationError(errors.New("invalid data"), flds...)
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	if len(err.Fields) == 0 {
		return err.Err.Error()
	}
	msgs := make([]string, 0, len(err.Fields))
	for _, fld := range err.Fields {
		msgs = append(msgs, fld.Field+": "+fld.Error)
	}
	return err.Err.Error() + " (" + strings.Join(msgs, "; ") + ")"
}

// FieldErrors returns the errors of the field named `field`.
func (err ValidationError) FieldErrors(field string) []string {
	var msgs []string
	for _, fld := range err.Fields {
		if fld.Field == field {
			msgs = append(msgs, fld.Error)
		}
	}
	return msgs
}

func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

package server

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/apperror"
)

// Validator adapts go-playground/validator to echo.Validator. Failures are
// returned as apperror validation errors keyed by field namespace.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.NewBadRequest(err.Error())
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[field] = rule
	}
	return apperror.NewValidation(details)
}

package core

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"reviewpulse/internal/extract"
	"reviewpulse/internal/types"
)

// Validator wraps go-playground/validator with domain-specific rules.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom tags:
//   - playstore_url: a valid Play Store details URL with an id parameter.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// Registration of a plain func never fails; ignore the error to keep
	// construction infallible like the rest of the chassis.
	_ = v.RegisterValidation("playstore_url", func(fl validator.FieldLevel) bool {
		_, err := extract.ParseAppURL(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct runs tag validation over a decoded request body and maps
// failures to field-keyed AppError details.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = "failed " + fe.Tag() + " validation"
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		details,
	)
}

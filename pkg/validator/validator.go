// ==============================================================================
// VALIDATOR PACKAGE - pkg/validator/validator.go
// ==============================================================================
package validator

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		// Format validation errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "gt":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "lte":
					msg = fmt.Sprintf("Must be at most %s", e.Param())
				case "min":
					msg = fmt.Sprintf("Must contain at least %s elements", e.Param())
				case "max":
					msg = fmt.Sprintf("Must contain at most %s elements", e.Param())
				case "finite":
					msg = "Must be a finite number"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) registerCustomValidations() {
	// NaN and Inf survive JSON decoding of some clients' payloads and would
	// poison every downstream statistic; reject them at the boundary.
	_ = v.validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind().String() {
		case "float64", "float32":
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		case "slice":
			for i := 0; i < fl.Field().Len(); i++ {
				f := fl.Field().Index(i).Float()
				if math.IsNaN(f) || math.IsInf(f, 0) {
					return false
				}
			}
			return true
		}
		return true
	})
}

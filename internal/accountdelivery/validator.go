package accountdelivery

import (
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-playground/validator/v10"
)

// ValidAmount validates a money amount: at least 1 with at most two decimal places.
var ValidAmount validator.Func = func(fl validator.FieldLevel) bool {
	if s, ok := fl.Field().Interface().(string); ok {
		_, err := domain.ParseAmount(s)
		return err == nil
	}
	return false
}

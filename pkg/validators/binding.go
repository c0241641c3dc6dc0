package validators

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// IsDate reports whether s is a calendar date in YYYY-MM-DD form
func IsDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// DateRange checks optional from and to query values
func DateRange(from, to string) error {
	if from != "" && !IsDate(from) {
		return fmt.Errorf("from must be a date in YYYY-MM-DD format")
	}

	if to != "" && !IsDate(to) {
		return fmt.Errorf("to must be a date in YYYY-MM-DD format")
	}

	if from != "" && to != "" && from > to {
		return fmt.Errorf("from must not be after to")
	}

	return nil
}

func isDate(fl validator.FieldLevel) bool {
	return IsDate(fl.Field().String())
}

func isClock(fl validator.FieldLevel) bool {
	_, err := time.Parse(timeLayout, fl.Field().String())
	return err == nil
}

// RegisterBindings adds the custom tags used in request structs to gin's
// validator: date (YYYY-MM-DD) and clock (HH:MM)
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}

	if err := v.RegisterValidation("date", isDate); err != nil {
		return err
	}

	return v.RegisterValidation("clock", isClock)
}

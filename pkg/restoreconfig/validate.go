package restoreconfig

import (
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	structValidator *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		structValidator = validator.New()
		_ = structValidator.RegisterValidation("ecid", validateECID)
	})
	return structValidator
}

// validateECID accepts decimal ("1234567890123") or 0x-prefixed hex
// ("0x12AB34CD") ECID strings, matching restore_is_current_device's
// normalization in the original restore driver.
func validateECID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}

	if lower := strings.ToLower(s); strings.HasPrefix(lower, "0x") {
		_, err := strconv.ParseUint(lower[2:], 16, 64)
		return err == nil
	}

	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// ParseECID normalizes opts.ECID (decimal or 0x-hex) to a uint64.
func ParseECID(ecid string) (uint64, error) {
	if lower := strings.ToLower(ecid); strings.HasPrefix(lower, "0x") {
		return strconv.ParseUint(lower[2:], 16, 64)
	}
	return strconv.ParseUint(ecid, 10, 64)
}

// Validate checks opts against its struct tags, including the custom
// "ecid" validator.
func Validate(opts *Options) error {
	return getValidator().Struct(opts)
}

package core

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone parses raw in the given default region and returns it in
// E.164 form. Numbers that do not validate are rejected.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid(ErrInvalidPhone, "phone number is required")
	}
	num, err := libphonenumber.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", invalid(ErrInvalidPhone, "%s: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", invalid(ErrInvalidPhone, "%s", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

package passcode

import (
	"strings"
	"unicode/utf8"
)

// Validate checks passcode policy. It does not mutate input.
func (c Config) Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrPasscodeBlank
	}

	n := utf8.RuneCountInString(code)
	if n < c.Policy.MinLength {
		return ErrPasscodeTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasscodeTooLong
	}
	return nil
}

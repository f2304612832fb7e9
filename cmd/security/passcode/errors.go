package passcode

import "errors"

// Public, stable errors for callers.
var (
	ErrPasscodeTooShort = errors.New("passcode too short")
	ErrPasscodeTooLong  = errors.New("passcode too long")
	ErrPasscodeBlank    = errors.New("passcode is blank")
	ErrInvalidHash      = errors.New("invalid passcode hash")
	ErrConfig           = errors.New("invalid passcode config")
)

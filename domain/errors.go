package domain

import "errors"

// Forward failure classes. The forwarder wraps one of these so callers can
// tell them apart with errors.Is.
var (
	ErrCompress         = errors.New("compression failed")
	ErrEncode           = errors.New("encoding failed")
	ErrTransport        = errors.New("upload transport failed")
	ErrUnexpectedStatus = errors.New("collector returned non-success status")
)

// InvalidConfig wraps configuration validation errors
type InvalidConfig struct {
	Field string
	Err   error
}

func (c InvalidConfig) Error() string {
	return c.Field + ": " + c.Err.Error()
}

func (c InvalidConfig) Unwrap() error {
	return c.Err
}

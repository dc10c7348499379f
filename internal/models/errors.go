package models

import "errors"

// ErrValidation marks bad input shapes: a malformed interaction, a non-positive
// capacity or duration, an unknown enum value. Wrapped with detail at the call site.
var ErrValidation = errors.New("validation error")

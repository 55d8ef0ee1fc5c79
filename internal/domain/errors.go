package domain

import "errors"

// ErrMissingCredential reports that a completion backend has no credential
// configured. Backends wrap it so callers can match with errors.Is.
var ErrMissingCredential = errors.New("missing provider credential")

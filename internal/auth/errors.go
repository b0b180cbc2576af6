package auth

import "errors"

// ErrUnauthorized covers every authentication failure: unknown account, bad
// password, disabled account. One sentinel keeps the causes indistinguishable
// at the API boundary.
var ErrUnauthorized = errors.New("auth: unauthorized")

package topology

import "errors"

var (
	ErrInvalidEvent = errors.New("invalid topology event")
)

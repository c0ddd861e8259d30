package consistency

import "errors"

var (
	ErrNoLocalInstance = errors.New("view has no local instance")
)

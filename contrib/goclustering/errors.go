package goclustering

import "errors"

var (
	ErrAlreadyLeft = errors.New("member has already left")
)

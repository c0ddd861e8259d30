package viewstate

import "errors"

var (
	ErrNilListener     = errors.New("listener must not be nil")
	ErrNilView         = errors.New("view must not be nil")
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

package services

import "github.com/pkg/errors"

// Request errors raised by the services themselves, before any stage runs
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

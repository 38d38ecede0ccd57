package domain

import "errors"

var (
	// ErrMissingSource means neither an upload nor a URL was supplied.
	ErrMissingSource = errors.New("missing source: provide a file or a url")
	ErrNotFound      = errors.New("not found")
	ErrGPUTimeout    = errors.New("gpu job timed out")
	ErrGPUFailed     = errors.New("gpu job failed")
)

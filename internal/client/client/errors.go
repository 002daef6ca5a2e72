package client

import "errors"

var (
	// ErrUnavailable is returned by Ping when the remote cannot be reached.
	ErrUnavailable = errors.New("server unavailable")
)

package model

import "errors"

// Error kinds. Packages wrap these so callers can classify with errors.Is.
var (
	// ErrTransport covers connect, send and receive failures. Recoverable by reconnecting.
	ErrTransport = errors.New("transport error")

	// ErrDecode marks a single malformed message or record. That unit is dropped.
	ErrDecode = errors.New("decode error")

	// ErrSubscriptionRejected means the server refused a subscribe batch.
	ErrSubscriptionRejected = errors.New("subscription rejected")

	// ErrUnsupportedVersion is returned for snapshot API versions other than 1 and 2.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrInvalidArgument is a caller error; the call fails without retry.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfig is a bad endpoint or configuration value. Fatal at startup.
	ErrConfig = errors.New("config error")
)

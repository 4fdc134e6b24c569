package sync

import "errors"

var (
	// ErrIDMismatch means a Save entry's embedded id differs from its key.
	ErrIDMismatch = errors.New("record id does not match delta key")
	// ErrInvalidID means an id could not be read as an integer.
	ErrInvalidID = errors.New("record id is not numeric")
	// ErrInvalidOp means a delta entry carries an unknown operation.
	ErrInvalidOp = errors.New("unknown delta operation")
	// ErrMalformedRequest means a sync request is missing or has bad fields.
	ErrMalformedRequest = errors.New("malformed sync request")
	// ErrUnsupportedProtocol means the request names another protocol.
	ErrUnsupportedProtocol = errors.New("unsupported sync protocol")
)

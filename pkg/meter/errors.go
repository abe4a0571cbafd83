package meter

import "errors"

var (
	// ErrTimeout means the device did not answer within the configured
	// timeout on any attempt.
	ErrTimeout = errors.New("measurement timed out")

	// ErrChecksumMismatch means every received frame failed integrity
	// validation (bad checksum, malformed frame, or a frame for the wrong
	// point).
	ErrChecksumMismatch = errors.New("frame checksum mismatch")

	// ErrDeviceNotResponding means the serial channel is broken or the
	// device reported an internal error.
	ErrDeviceNotResponding = errors.New("device not responding")

	// ErrCanceled means the caller canceled the acquisition while it was
	// waiting for a frame. The stored point value is untouched.
	ErrCanceled = errors.New("acquisition canceled")

	// ErrClosed means the acquirer has been shut down.
	ErrClosed = errors.New("acquirer closed")

	// ErrReadTimeout is returned by a Transport when no bytes arrived
	// within the read timeout. It is internal to one read slice; the
	// acquirer turns exhausted attempts into ErrTimeout.
	ErrReadTimeout = errors.New("serial read timeout")
)

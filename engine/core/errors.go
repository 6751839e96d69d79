package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrUnknown = errors.New("unknown")

	ErrNotHostVisible         = errors.New("buffer is not host visible")
	ErrNullResource           = errors.New("resource is null")
	ErrMissingCapability      = errors.New("device is missing a required capability")
	ErrTimeout                = errors.New("timed out waiting for the device")
	ErrDeviceLost             = errors.New("device lost")
	ErrOutOfMemory            = errors.New("out of device memory")
	ErrBindlessTableFull      = errors.New("bindless texture table is full")
	ErrQueueShutdown          = errors.New("destruction queue already shut down")
	ErrWorkerStopped          = errors.New("asset worker stopped")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrTargetOutOfDate        = errors.New("render target out of date")
	ErrTargetSuboptimal       = errors.New("render target suboptimal")
	ErrAssetNotFound          = errors.New("asset not found")
	ErrUnknownBackend         = errors.New("unknown renderer backend")
	ErrUnknownVulkanLoader    = errors.New("unknown vulkan loader")
	ErrShaderGroupsIncomplete = errors.New("ray tracing pipeline has an incomplete shader group set")
)

// Newf creates an error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// Wrap annotates err with msg, keeping the chain intact.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Assertf reports a broken internal invariant. Callers must abort the
// operation in progress: the data that produced it cannot be rendered safely.
func Assertf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}

// IsFatal reports whether err carries an assertion failure anywhere in its chain.
func IsFatal(err error) bool {
	return errors.HasAssertionFailure(err)
}

// IsTransient reports whether err is a presentation fault handled by resizing.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTargetOutOfDate) || errors.Is(err, ErrTargetSuboptimal)
}

package audiocore

import (
	"fmt"

	"github.com/tphakala/twinplay/internal/errors"
)

const componentAudioCore = "audiocore"

// Sentinel errors. Errors returned by this package wrap one of these and
// carry a category and device context for telemetry.
var (
	ErrDeviceInfoUnavailable = errors.NewStd("device information unavailable")
	ErrLoopbackNotFound      = errors.NewStd("no loopback endpoint for primary device")
	ErrNoCommonFormat        = errors.NewStd("no common stream format")
	ErrStreamOpenFailed      = errors.NewStd("failed to open stream")
	ErrStreamWriteFailed     = errors.NewStd("render stream write failed")
	ErrStopTimeout           = errors.NewStd("routing worker did not stop in time")
	ErrSameDevice            = errors.NewStd("primary and secondary must be different devices")
	ErrContextReleased       = errors.NewStd("audio context has been released")
	ErrAmbiguousDevice       = errors.NewStd("device query matches more than one endpoint")
)

func deviceError(sentinel error, ep AudioEndpoint, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errors.New(fmt.Errorf("%w: %s", sentinel, msg)).
		Component(componentAudioCore).
		Category(categoryFor(sentinel)).
		DeviceContext(ep.ID, ep.Name).
		Build()
}

func stateError(sentinel error, op string) error {
	return errors.New(sentinel).
		Component(componentAudioCore).
		Category(categoryFor(sentinel)).
		Context("operation", op).
		Build()
}

func categoryFor(sentinel error) errors.ErrorCategory {
	switch sentinel {
	case ErrDeviceInfoUnavailable, ErrLoopbackNotFound, ErrAmbiguousDevice:
		return errors.CategoryAudioDevice
	case ErrNoCommonFormat:
		return errors.CategoryAudioFormat
	case ErrStreamOpenFailed:
		return errors.CategoryAudioStream
	case ErrStreamWriteFailed:
		return errors.CategoryAudioWrite
	case ErrStopTimeout:
		return errors.CategoryTimeout
	case ErrSameDevice:
		return errors.CategoryValidation
	case ErrContextReleased:
		return errors.CategoryAudioContext
	default:
		return errors.CategoryGeneric
	}
}

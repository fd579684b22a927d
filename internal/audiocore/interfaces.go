package audiocore

import (
	"context"
	"fmt"
)

// SampleFormat identifies the PCM sample encoding of a stream
type SampleFormat int

const (
	// FormatS16 is signed 16-bit little-endian interleaved PCM
	FormatS16 SampleFormat = iota + 1
)

// BytesPerSample returns the width of one sample in bytes
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// StreamFormat describes the PCM layout of a capture or render stream
type StreamFormat struct {
	SampleRate uint32       `json:"sample_rate" yaml:"sample_rate"`
	Channels   uint32       `json:"channels" yaml:"channels"`
	Format     SampleFormat `json:"-" yaml:"-"`
}

// BytesPerFrame returns the size of one interleaved frame
func (f StreamFormat) BytesPerFrame() int {
	return int(f.Channels) * f.Format.BytesPerSample()
}

// BitDepth returns the sample width in bits
func (f StreamFormat) BitDepth() int {
	return f.Format.BytesPerSample() * 8
}

func (f StreamFormat) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %s", f.SampleRate, f.Channels, f.Format)
}

// Direction selects the capture or render side of an endpoint
type Direction int

const (
	DirectionCapture Direction = iota
	DirectionRender
)

func (d Direction) String() string {
	if d == DirectionRender {
		return "render"
	}
	return "capture"
}

// AudioEndpoint is an immutable snapshot of a platform device taken at
// enumeration time.
type AudioEndpoint struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	HostAPI           string `json:"host_api" yaml:"host_api"`
	MaxInputChannels  uint32 `json:"max_input_channels" yaml:"max_input_channels"`
	MaxOutputChannels uint32 `json:"max_output_channels" yaml:"max_output_channels"`
	DefaultSampleRate uint32 `json:"default_sample_rate" yaml:"default_sample_rate"`
	IsLoopbackCapture bool   `json:"is_loopback" yaml:"is_loopback"`
	IsDefault         bool   `json:"is_default" yaml:"is_default"`
	// LoopbackOf is the render endpoint ID a loopback endpoint mirrors, when known.
	LoopbackOf string `json:"loopback_of,omitempty" yaml:"loopback_of,omitempty"`
}

// Role classifies an endpoint for listing and deduplication
type Role string

const (
	RoleOutput   Role = "output"
	RoleInput    Role = "input"
	RoleLoopback Role = "loopback"
)

// Role returns the endpoint's role. Loopback wins over input; endpoints
// with output channels are outputs.
func (e AudioEndpoint) Role() Role {
	switch {
	case e.IsLoopbackCapture:
		return RoleLoopback
	case e.MaxOutputChannels > 0:
		return RoleOutput
	default:
		return RoleInput
	}
}

// Channels returns the channel count relevant to the endpoint's role
func (e AudioEndpoint) Channels() uint32 {
	if e.Role() == RoleOutput {
		return e.MaxOutputChannels
	}
	return e.MaxInputChannels
}

// RouteConfiguration is fixed for the lifetime of one routing session
type RouteConfiguration struct {
	Primary   AudioEndpoint `json:"primary" yaml:"primary"`
	Secondary AudioEndpoint `json:"secondary" yaml:"secondary"`
	Loopback  AudioEndpoint `json:"loopback" yaml:"loopback"`
	Format    StreamFormat  `json:"format" yaml:"format"`
}

// CaptureCallback receives each captured buffer on the platform's real-time
// thread. The slice is only valid for the duration of the call and the
// callback must not block.
type CaptureCallback func(data []byte, frames uint32)

// Stream is an open platform stream
type Stream interface {
	Start() error
	// Close stops and releases the stream. It is safe to call more than once.
	Close() error
	IsActive() bool
}

// RenderStream is a render stream fed by Write
type RenderStream interface {
	Stream
	// Write queues p for playback without blocking. It fails when the
	// stream is inactive or its queue cannot hold all of p.
	Write(p []byte) error
	// Underruns counts render periods that were padded with silence.
	Underruns() uint64
}

// Platform is the boundary to the native audio subsystem. Implementations
// are reference counted: Acquire adds an owner, Release drops one, and the
// native context is torn down when the last owner releases it.
type Platform interface {
	Name() string
	Endpoints(ctx context.Context) ([]AudioEndpoint, error)
	// Probe opens and immediately closes a stream to test format support.
	Probe(ep AudioEndpoint, dir Direction, format StreamFormat, frames uint32) error
	OpenRender(ep AudioEndpoint, format StreamFormat, frames uint32) (RenderStream, error)
	OpenCapture(ep AudioEndpoint, format StreamFormat, frames uint32, cb CaptureCallback) (Stream, error)
	Acquire() error
	Release() error
}

// FrameSink receives a copy of every routed buffer. Submit is called on the
// real-time thread and must not block.
type FrameSink interface {
	Submit(data []byte)
	Close() error
}

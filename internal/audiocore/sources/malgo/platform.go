// Package malgo implements audiocore.Platform on top of miniaudio through
// the malgo bindings.
package malgo

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

const componentMalgo = "audio.malgo"

// DefaultRingPeriods is the render queue depth in stream periods
const DefaultRingPeriods = 8

// Options configures the malgo platform
type Options struct {
	// Backend is "auto" or one of the names accepted by ParseBackend.
	Backend string
	// RingPeriods sizes the render queue in periods of the stream buffer.
	RingPeriods int
}

// Platform is a reference-counted miniaudio context. The native context is
// created by the first Acquire and destroyed by the last Release.
type Platform struct {
	backends []malgo.Backend
	ring     int
	log      logger.Logger

	mu      sync.Mutex
	refs    int
	ctx     *malgo.AllocatedContext
	active  malgo.Backend
	devices map[string]deviceRef
}

// deviceRef maps an endpoint ID back to the native device
type deviceRef struct {
	typ      malgo.DeviceType
	id       malgo.DeviceID
	loopback bool
}

// New creates a platform. No native resources are allocated until Acquire.
func New(opts Options) (*Platform, error) {
	backends, err := backendsFor(opts.Backend, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	ring := opts.RingPeriods
	if ring < 2 {
		ring = DefaultRingPeriods
	}
	return &Platform{
		backends: backends,
		ring:     ring,
		log:      GetLogger(),
		devices:  make(map[string]deviceRef),
	}, nil
}

// GetLogger returns the malgo platform logger
func GetLogger() logger.Logger {
	return logger.Global().Module("audio").Module("malgo")
}

// backendsFor returns the backend preference list for an OS
func backendsFor(name, goos string) ([]malgo.Backend, error) {
	if name != "" && !strings.EqualFold(name, "auto") {
		b, err := ParseBackend(name)
		if err != nil {
			return nil, err
		}
		return []malgo.Backend{b}, nil
	}
	switch goos {
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}, nil
	case "linux":
		return []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa}, nil
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}, nil
	default:
		return nil, errors.New(fmt.Errorf("unsupported operating system %q", goos)).
			Component(componentMalgo).
			Category(errors.CategoryConfiguration).
			Context("os", goos).
			Build()
	}
}

// ParseBackend maps a configuration name to a miniaudio backend
func ParseBackend(name string) (malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "wasapi":
		return malgo.BackendWasapi, nil
	case "pulseaudio", "pulse":
		return malgo.BackendPulseaudio, nil
	case "alsa":
		return malgo.BackendAlsa, nil
	case "coreaudio":
		return malgo.BackendCoreaudio, nil
	case "null":
		return malgo.BackendNull, nil
	default:
		return malgo.BackendNull, errors.New(fmt.Errorf("unknown audio backend %q", name)).
			Component(componentMalgo).
			Category(errors.CategoryConfiguration).
			Context("backend", name).
			Build()
	}
}

func backendName(b malgo.Backend) string {
	switch b {
	case malgo.BackendWasapi:
		return "wasapi"
	case malgo.BackendPulseaudio:
		return "pulseaudio"
	case malgo.BackendAlsa:
		return "alsa"
	case malgo.BackendCoreaudio:
		return "coreaudio"
	case malgo.BackendNull:
		return "null"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Name returns the platform name including the active backend
func (p *Platform) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return "malgo"
	}
	return "malgo/" + p.hostAPILocked()
}

func (p *Platform) hostAPILocked() string {
	if p.ctx == nil {
		return "unknown"
	}
	return backendName(p.active)
}

// Acquire adds an owner, initializing the native context on first use
func (p *Platform) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refs == 0 {
		if err := p.initContextLocked(); err != nil {
			return err
		}
		p.log.Debug("audio context initialized", logger.String("host_api", p.hostAPILocked()))
	}
	p.refs++
	return nil
}

// initContextLocked tries each backend in preference order so the active
// backend is known; it becomes the endpoints' host API.
func (p *Platform) initContextLocked() error {
	var errs []error
	for _, backend := range p.backends {
		ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
			p.log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
		})
		if err != nil {
			p.log.Debug("audio backend unavailable",
				logger.String("backend", backendName(backend)),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", backendName(backend), err))
			continue
		}
		p.ctx = ctx
		p.active = backend
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component(componentMalgo).
		Category(errors.CategoryAudioContext).
		Context("operation", "init_context").
		Context("os", runtime.GOOS).
		Build()
}

// Release drops an owner. The last Release tears down the native context.
func (p *Platform) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refs == 0 {
		return nil
	}
	p.refs--
	if p.refs > 0 {
		return nil
	}

	ctx := p.ctx
	p.ctx = nil
	clear(p.devices)
	if err := ctx.Uninit(); err != nil {
		ctx.Free()
		return errors.New(err).
			Component(componentMalgo).
			Category(errors.CategoryAudioContext).
			Context("operation", "uninit_context").
			Build()
	}
	ctx.Free()
	p.log.Debug("audio context released")
	return nil
}

// context returns the live native context
func (p *Platform) context() (*malgo.AllocatedContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil, errors.New(audiocore.ErrContextReleased).
			Component(componentMalgo).
			Category(errors.CategoryAudioContext).
			Build()
	}
	return p.ctx, nil
}

func (p *Platform) lookup(ep audiocore.AudioEndpoint) (*malgo.AllocatedContext, deviceRef, error) {
	ctx, err := p.context()
	if err != nil {
		return nil, deviceRef{}, err
	}
	p.mu.Lock()
	ref, ok := p.devices[ep.ID]
	p.mu.Unlock()
	if !ok {
		return nil, deviceRef{}, errors.New(fmt.Errorf("%w: endpoint %q was not enumerated", audiocore.ErrDeviceInfoUnavailable, ep.ID)).
			Component(componentMalgo).
			Category(errors.CategoryAudioDevice).
			DeviceContext(ep.ID, ep.Name).
			Build()
	}
	return ctx, ref, nil
}

var _ audiocore.Platform = (*Platform)(nil)

// Endpoints enumerates playback and capture devices
func (p *Platform) Endpoints(ctx context.Context) ([]audiocore.AudioEndpoint, error) {
	mctx, err := p.context()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	hostAPI := p.hostAPILocked()
	p.mu.Unlock()

	playback, err := p.listDevices(mctx, malgo.Playback)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	capture, err := p.listDevices(mctx, malgo.Capture)
	if err != nil {
		return nil, err
	}

	endpoints, refs := classify(hostAPI, playback, capture)

	p.mu.Lock()
	clear(p.devices)
	for id, ref := range refs {
		p.devices[id] = ref
	}
	p.mu.Unlock()

	p.log.Debug("enumerated audio endpoints",
		logger.String("host_api", hostAPI),
		logger.Int("playback", len(playback)),
		logger.Int("capture", len(capture)),
		logger.Int("endpoints", len(endpoints)))
	return endpoints, nil
}

func (p *Platform) listDevices(mctx *malgo.AllocatedContext, typ malgo.DeviceType) ([]nativeDevice, error) {
	infos, err := mctx.Devices(typ)
	if err != nil {
		return nil, errors.New(err).
			Component(componentMalgo).
			Category(errors.CategoryAudioDevice).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := make([]nativeDevice, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		full, err := mctx.DeviceInfo(typ, infos[i].ID, malgo.Shared)
		if err != nil {
			p.log.Warn("unable to get audio device info",
				logger.String("device", infos[i].Name()),
				logger.Error(err))
			full = infos[i]
		}
		devices = append(devices, nativeFromInfo(typ, full))
	}
	return devices, nil
}

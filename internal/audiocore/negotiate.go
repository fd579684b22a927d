package audiocore

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/twinplay/internal/logger"
)

// DefaultFramesPerBuffer is the capture callback period and probe buffer size
const DefaultFramesPerBuffer uint32 = 1024

var (
	// candidateRates is the probe order for SupportedRates
	candidateRates = []uint32{44100, 48000, 96000, 88200, 192000}
	// fallbackRates is consulted in order when the loopback's native rate is
	// not supported by the secondary.
	fallbackRates = []uint32{48000, 44100}
)

// RateCache memoizes SupportedRates results per endpoint ID. Probing opens
// a real device for every candidate rate, which takes tens of milliseconds
// per rate on some backends.
type RateCache struct {
	c *cache.Cache
}

// NewRateCache creates a cache whose entries expire after ttl. A zero ttl
// disables caching.
func NewRateCache(ttl time.Duration) *RateCache {
	if ttl <= 0 {
		return nil
	}
	return &RateCache{c: cache.New(ttl, 2*ttl)}
}

func (rc *RateCache) get(id string) ([]uint32, bool) {
	if rc == nil {
		return nil, false
	}
	v, ok := rc.c.Get(id)
	if !ok {
		return nil, false
	}
	rates, ok := v.([]uint32)
	return rates, ok
}

func (rc *RateCache) set(id string, rates []uint32) {
	if rc == nil {
		return
	}
	rc.c.SetDefault(id, rates)
}

// Flush drops every cached entry
func (rc *RateCache) Flush() {
	if rc != nil {
		rc.c.Flush()
	}
}

// SupportedRates probes which candidate rates the render endpoint accepts.
// Probe failures mean "unsupported" and are never returned.
func SupportedRates(ctx context.Context, platform Platform, ep AudioEndpoint, rc *RateCache) []uint32 {
	if rates, ok := rc.get(ep.ID); ok {
		return rates
	}

	channels := uint32(1)
	if ep.MaxOutputChannels >= 2 {
		channels = 2
	}

	rates := make([]uint32, 0, len(candidateRates))
	for _, rate := range candidateRates {
		if ctx.Err() != nil {
			// Partial results are not cached.
			return rates
		}
		format := StreamFormat{SampleRate: rate, Channels: channels, Format: FormatS16}
		if err := platform.Probe(ep, DirectionRender, format, DefaultFramesPerBuffer); err != nil {
			continue
		}
		rates = append(rates, rate)
	}

	rc.set(ep.ID, rates)
	return rates
}

// Negotiator selects the stream format shared by a loopback and a secondary
// render endpoint.
type Negotiator struct {
	platform Platform
	cache    *RateCache
	log      logger.Logger
}

// NewNegotiator creates a Negotiator. cache may be nil.
func NewNegotiator(platform Platform, rc *RateCache) *Negotiator {
	return &Negotiator{
		platform: platform,
		cache:    rc,
		log:      GetLogger().Module("negotiate"),
	}
}

// Negotiate builds the route configuration for one session. The loopback's
// native format is used when the secondary supports its rate; otherwise the
// fallback rates are tried in order.
func (n *Negotiator) Negotiate(ctx context.Context, primary, loopback, secondary AudioEndpoint) (RouteConfiguration, error) {
	supported := SupportedRates(ctx, n.platform, secondary, n.cache)
	format, err := n.selectFormat(loopback, secondary, supported)
	if err != nil {
		return RouteConfiguration{}, err
	}

	if secondary.MaxOutputChannels < format.Channels {
		n.log.Warn("secondary device has fewer output channels than the loopback stream",
			logger.String("secondary", secondary.Name),
			logger.Uint32("secondary_channels", secondary.MaxOutputChannels),
			logger.Uint32("stream_channels", format.Channels))
	}

	return RouteConfiguration{
		Primary:   primary,
		Secondary: secondary,
		Loopback:  loopback,
		Format:    format,
	}, nil
}

func (n *Negotiator) selectFormat(loopback, secondary AudioEndpoint, supported []uint32) (StreamFormat, error) {
	candidate := StreamFormat{
		SampleRate: loopback.DefaultSampleRate,
		Channels:   loopback.MaxInputChannels,
		Format:     FormatS16,
	}

	if slices.Contains(supported, candidate.SampleRate) {
		n.log.Debug("using loopback native rate",
			logger.Uint32("rate", candidate.SampleRate),
			logger.Uint32("channels", candidate.Channels))
		return candidate, nil
	}

	for _, rate := range fallbackRates {
		if !slices.Contains(supported, rate) {
			continue
		}
		// Known inconsistency: the loopback is checked at its original rate,
		// not at the fallback rate the stream will be opened with. Kept as is
		// pending product confirmation.
		if err := n.platform.Probe(loopback, DirectionCapture, candidate, DefaultFramesPerBuffer); err != nil {
			n.log.Debug("loopback probe failed", logger.Uint32("rate", candidate.SampleRate), logger.Error(err))
			continue
		}
		fallback := candidate
		fallback.SampleRate = rate
		if err := n.platform.Probe(secondary, DirectionRender, fallback, DefaultFramesPerBuffer); err != nil {
			n.log.Debug("secondary probe failed", logger.Uint32("rate", rate), logger.Error(err))
			continue
		}
		n.log.Info("falling back to common sample rate",
			logger.Uint32("native_rate", candidate.SampleRate),
			logger.Uint32("rate", rate))
		return fallback, nil
	}

	return StreamFormat{}, deviceError(ErrNoCommonFormat, secondary,
		"loopback rate %d Hz not playable on %q (supported %v)", candidate.SampleRate, secondary.Name, supported)
}

// Package app implements the twinplay commands on top of audiocore. The
// cmd packages only parse flags and call in here.
package app

import (
	"context"
	"fmt"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/audiocore/sources/malgo"
	"github.com/tphakala/twinplay/internal/conf"
	"github.com/tphakala/twinplay/internal/logger"
)

// GetLogger returns the app module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// NewPlatform creates the malgo platform configured by settings.audio
func NewPlatform(settings *conf.Settings) (audiocore.Platform, error) {
	return malgo.New(malgo.Options{
		Backend:     settings.Audio.Backend,
		RingPeriods: settings.Audio.RingBuffer,
	})
}

// Selection is a resolved primary and secondary output pair
type Selection struct {
	Primary   audiocore.AudioEndpoint
	Secondary audiocore.AudioEndpoint
}

// SelectDevices resolves the --primary and --secondary queries against the
// catalog. An empty primary selects the default output and an empty
// secondary takes the catalog's suggestion for the primary.
func SelectDevices(catalog *audiocore.Catalog, primary, secondary string) (Selection, error) {
	var sel Selection

	if primary == "" {
		ep, ok := catalog.DefaultOutput()
		if !ok {
			return sel, fmt.Errorf("no output devices found: %w", audiocore.ErrDeviceInfoUnavailable)
		}
		sel.Primary = ep
	} else {
		ep, err := catalog.SelectOutput(primary)
		if err != nil {
			return sel, fmt.Errorf("primary device: %w", err)
		}
		sel.Primary = ep
	}

	if secondary == "" {
		ep, ok := catalog.SuggestSecondary(sel.Primary.ID)
		if !ok {
			return sel, fmt.Errorf("no second output device available: %w", audiocore.ErrDeviceInfoUnavailable)
		}
		sel.Secondary = ep
	} else {
		ep, err := catalog.SelectOutput(secondary)
		if err != nil {
			return sel, fmt.Errorf("secondary device: %w", err)
		}
		sel.Secondary = ep
	}

	return sel, nil
}

// loadCatalog acquires platform for the duration of one enumeration
func loadCatalog(ctx context.Context, platform audiocore.Platform) (*audiocore.Catalog, error) {
	if err := platform.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := platform.Release(); err != nil {
			GetLogger().Warn("failed to release audio context", logger.Error(err))
		}
	}()

	endpoints, err := platform.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return audiocore.NewCatalog(endpoints), nil
}

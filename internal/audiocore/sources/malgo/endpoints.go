package malgo

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/twinplay/internal/audiocore"
)

// Endpoint ID prefixes keep playback, capture and loopback IDs distinct on
// backends where they share native IDs (ALSA "hw:0,0").
const (
	prefixOutput   = "out:"
	prefixInput    = "in:"
	prefixLoopback = "loop:"

	loopbackSuffix = " [Loopback]"
	monitorPrefix  = "Monitor of "
	monitorIDTail  = ".monitor"

	fallbackChannels   = 2
	fallbackSampleRate = 48000
)

// nativeDevice is the subset of malgo.DeviceInfo the catalog needs
type nativeDevice struct {
	typ       malgo.DeviceType
	id        malgo.DeviceID
	name      string
	isDefault bool
	channels  uint32
	rate      uint32
}

func nativeFromInfo(typ malgo.DeviceType, info malgo.DeviceInfo) nativeDevice {
	d := nativeDevice{
		typ:       typ,
		id:        info.ID,
		name:      info.Name(),
		isDefault: info.IsDefault == 1,
	}
	count := min(int(info.FormatCount), len(info.Formats))
	for i := range count {
		f := info.Formats[i]
		d.channels = max(d.channels, f.Channels)
		if d.rate == 0 && f.SampleRate > 0 {
			d.rate = f.SampleRate
		}
	}
	// Zero means "any" to miniaudio.
	if d.channels == 0 {
		d.channels = fallbackChannels
	}
	if d.rate == 0 {
		d.rate = fallbackSampleRate
	}
	return d
}

// classify turns native devices into catalog endpoints and remembers how to
// reopen each one.
func classify(hostAPI string, playback, capture []nativeDevice) ([]audiocore.AudioEndpoint, map[string]deviceRef) {
	endpoints := make([]audiocore.AudioEndpoint, 0, 2*len(playback)+len(capture))
	refs := make(map[string]deviceRef, cap(endpoints))

	for _, d := range playback {
		id := prefixOutput + deviceIDString(d.id)
		endpoints = append(endpoints, audiocore.AudioEndpoint{
			ID:                id,
			Name:              d.name,
			HostAPI:           hostAPI,
			MaxOutputChannels: d.channels,
			DefaultSampleRate: d.rate,
			IsDefault:         d.isDefault,
		})
		refs[id] = deviceRef{typ: malgo.Playback, id: d.id}
	}

	for _, d := range capture {
		native := deviceIDString(d.id)
		id := prefixInput + native
		ep := audiocore.AudioEndpoint{
			ID:                id,
			Name:              d.name,
			HostAPI:           hostAPI,
			MaxInputChannels:  d.channels,
			DefaultSampleRate: d.rate,
			IsDefault:         d.isDefault,
		}
		if supportsMonitors(hostAPI) && isMonitor(d.name, native) {
			ep.IsLoopbackCapture = true
			if sink, ok := strings.CutSuffix(native, monitorIDTail); ok {
				if _, known := refs[prefixOutput+sink]; known {
					ep.LoopbackOf = prefixOutput + sink
				}
			}
		}
		endpoints = append(endpoints, ep)
		refs[id] = deviceRef{typ: malgo.Capture, id: d.id}
	}

	// WASAPI exposes loopback as a capture mode on render devices rather
	// than as separate endpoints.
	if hostAPI == "wasapi" {
		for _, d := range playback {
			native := deviceIDString(d.id)
			id := prefixLoopback + native
			endpoints = append(endpoints, audiocore.AudioEndpoint{
				ID:                id,
				Name:              d.name + loopbackSuffix,
				HostAPI:           hostAPI,
				MaxInputChannels:  d.channels,
				DefaultSampleRate: d.rate,
				IsLoopbackCapture: true,
				LoopbackOf:        prefixOutput + native,
			})
			refs[id] = deviceRef{typ: malgo.Loopback, id: d.id, loopback: true}
		}
	}

	return endpoints, refs
}

func supportsMonitors(hostAPI string) bool {
	return hostAPI == "pulseaudio" || hostAPI == "alsa"
}

// isMonitor reports whether a capture device mirrors a sink
func isMonitor(name, nativeID string) bool {
	return strings.HasPrefix(name, monitorPrefix) || strings.HasSuffix(strings.ToLower(nativeID), monitorIDTail)
}

// deviceIDString renders a native device ID as readable text where
// possible: plain ASCII (ALSA, PulseAudio), UTF-16LE ASCII (WASAPI), or hex.
func deviceIDString(id malgo.DeviceID) string {
	raw := bytes.TrimRight(id[:], "\x00")
	if len(raw) == 0 {
		return "default"
	}
	if isPrintableASCII(raw) {
		return string(raw)
	}
	if s, ok := decodeUTF16ASCII(raw); ok {
		return s
	}
	return hex.EncodeToString(raw)
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func decodeUTF16ASCII(b []byte) (string, bool) {
	if len(b)%2 == 1 {
		b = append(b[:len(b):len(b)], 0)
	}
	out := make([]byte, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		if b[i+1] != 0 || b[i] < 0x20 || b[i] > 0x7e {
			return "", false
		}
		out = append(out, b[i])
	}
	return string(out), true
}

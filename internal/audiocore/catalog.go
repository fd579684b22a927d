package audiocore

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Catalog is an enumeration-time snapshot of platform endpoints. Entries are
// best-effort identifiers: two devices with identical names and channel
// counts collapse into one.
type Catalog struct {
	endpoints []AudioEndpoint
	byID      map[string]int
}

type dedupKey struct {
	name     string
	channels uint32
	role     Role
}

// NewCatalog builds a catalog, keeping enumeration order and dropping later
// duplicates by (name, channel count, role).
func NewCatalog(endpoints []AudioEndpoint) *Catalog {
	c := &Catalog{
		endpoints: make([]AudioEndpoint, 0, len(endpoints)),
		byID:      make(map[string]int, len(endpoints)),
	}
	seen := make(map[dedupKey]struct{}, len(endpoints))
	for _, ep := range endpoints {
		key := dedupKey{name: ep.Name, channels: ep.Channels(), role: ep.Role()}
		if _, dup := seen[key]; dup {
			continue
		}
		if _, dup := c.byID[ep.ID]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.byID[ep.ID] = len(c.endpoints)
		c.endpoints = append(c.endpoints, ep)
	}
	return c
}

// All returns every endpoint in enumeration order
func (c *Catalog) All() []AudioEndpoint {
	return c.filter(func(AudioEndpoint) bool { return true })
}

// Outputs returns render endpoints. Loopback endpoints are never included.
func (c *Catalog) Outputs() []AudioEndpoint {
	return c.filter(func(ep AudioEndpoint) bool { return ep.Role() == RoleOutput })
}

// Inputs returns capture endpoints that are not loopbacks
func (c *Catalog) Inputs() []AudioEndpoint {
	return c.filter(func(ep AudioEndpoint) bool { return ep.Role() == RoleInput })
}

// Loopbacks returns loopback capture endpoints
func (c *Catalog) Loopbacks() []AudioEndpoint {
	return c.filter(func(ep AudioEndpoint) bool { return ep.Role() == RoleLoopback })
}

func (c *Catalog) filter(keep func(AudioEndpoint) bool) []AudioEndpoint {
	out := make([]AudioEndpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		if keep(ep) {
			out = append(out, ep)
		}
	}
	return out
}

// Lookup finds an endpoint by ID
func (c *Catalog) Lookup(id string) (AudioEndpoint, error) {
	if i, ok := c.byID[id]; ok {
		return c.endpoints[i], nil
	}
	return AudioEndpoint{}, deviceError(ErrDeviceInfoUnavailable, AudioEndpoint{ID: id}, "unknown endpoint id %q", id)
}

// DefaultOutput returns the platform's default render endpoint, falling back
// to the first output.
func (c *Catalog) DefaultOutput() (AudioEndpoint, bool) {
	outputs := c.Outputs()
	for _, ep := range outputs {
		if ep.IsDefault {
			return ep, true
		}
	}
	if len(outputs) > 0 {
		return outputs[0], true
	}
	return AudioEndpoint{}, false
}

// SuggestSecondary proposes a secondary output for primaryID. Bluetooth
// devices are preferred.
func (c *Catalog) SuggestSecondary(primaryID string) (AudioEndpoint, bool) {
	var first *AudioEndpoint
	for _, ep := range c.Outputs() {
		if ep.ID == primaryID {
			continue
		}
		if strings.Contains(strings.ToLower(ep.Name), "bluetooth") {
			return ep, true
		}
		if first == nil {
			first = &ep
		}
	}
	if first != nil {
		return *first, true
	}
	return AudioEndpoint{}, false
}

// SelectOutput resolves a user supplied device query to an output endpoint.
// The query is tried as "default", an exact ID, an exact name and finally a
// case-folded name fragment, which must match exactly one output.
func (c *Catalog) SelectOutput(query string) (AudioEndpoint, error) {
	query = strings.TrimSpace(query)
	outputs := c.Outputs()

	if strings.EqualFold(query, "default") {
		if ep, ok := c.DefaultOutput(); ok {
			return ep, nil
		}
	}
	for _, ep := range outputs {
		if ep.ID == query {
			return ep, nil
		}
	}
	for _, ep := range outputs {
		if ep.Name == query {
			return ep, nil
		}
	}

	if query != "" {
		fold := cases.Fold()
		fragment := fold.String(query)
		var matches []AudioEndpoint
		for _, ep := range outputs {
			if strings.Contains(fold.String(ep.Name), fragment) {
				matches = append(matches, ep)
			}
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
		default:
			names := make([]string, len(matches))
			for i, ep := range matches {
				names[i] = ep.Name
			}
			return AudioEndpoint{}, deviceError(ErrAmbiguousDevice, AudioEndpoint{Name: query},
				"%q matches %s", query, strings.Join(names, ", "))
		}
	}

	return AudioEndpoint{}, deviceError(ErrDeviceInfoUnavailable, AudioEndpoint{Name: query},
		"no output device matches %q", query)
}

// Len returns the number of endpoints after deduplication
func (c *Catalog) Len() int { return len(c.endpoints) }

// Describe formats an endpoint for log and CLI output
func Describe(ep AudioEndpoint) string {
	return fmt.Sprintf("%s (%s, %d ch, %d Hz)", ep.Name, ep.Role(), ep.Channels(), ep.DefaultSampleRate)
}

package audiocore

import "strings"

// ResolveLoopback finds the loopback capture endpoint mirroring primary. The
// first loopback in enumeration order on the same host API whose name
// contains the primary's name wins. There is no fallback.
func ResolveLoopback(catalog *Catalog, primary AudioEndpoint) (AudioEndpoint, error) {
	for _, ep := range catalog.Loopbacks() {
		if ep.HostAPI != primary.HostAPI {
			continue
		}
		if ep.LoopbackOf != "" && ep.LoopbackOf == primary.ID {
			return ep, nil
		}
		if primary.Name != "" && strings.Contains(ep.Name, primary.Name) {
			return ep, nil
		}
	}
	return AudioEndpoint{}, deviceError(ErrLoopbackNotFound, primary, "no loopback endpoint for %q", primary.Name)
}

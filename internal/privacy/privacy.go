// Package privacy scrubs broker URLs, credentials and home directory paths
// from messages before they reach logs or telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	urlPattern  = regexp.MustCompile(`\b(?:mqtts?|tcp|ssl|tls|wss?|https?)://\S+`)
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

	homeOnce sync.Once
	homeDir  string
)

// ScrubMessage anonymizes URLs and replaces the user's home directory with ~
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	if home := userHome(); home != "" {
		message = strings.ReplaceAll(message, home, "~")
	}
	return message
}

func userHome() string {
	homeOnce.Do(func() {
		if h, err := os.UserHomeDir(); err == nil && len(h) > 1 {
			homeDir = h
		}
	})
	return homeDir
}

// AnonymizeURL converts a URL to a stable hash that keeps the scheme, host
// category and port but none of the credentials, hostname or path.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsedURL.Scheme != "" {
		parts = append(parts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsedURL.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if p := strings.Trim(parsedURL.Path, "/"); p != "" {
		hash := sha256.Sum256([]byte(p))
		parts = append(parts, fmt.Sprintf("path-%x", hash[:4]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials and any path from a broker URL and
// keeps scheme, host and port for display.
func SanitizeBrokerURL(broker string) string {
	scheme, rest, ok := strings.Cut(broker, "://")
	if !ok {
		return broker
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return scheme + "://" + rest
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// isPrivateIP checks if the host is a private IP address (both IPv4 and IPv6)
func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}
	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}

package apiclient

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/example/ingrediscan/internal/analysis"
)

// DefaultFallbackPort is the analysis service port assumed for local hosts.
const DefaultFallbackPort = 8000

// ConfigError is returned when no endpoint can be resolved. It is raised before
// any network attempt.
type ConfigError struct {
	Host string
}

func (e *ConfigError) Error() string {
	if e.Host == "" {
		return "analysis backend URL is not configured"
	}
	return fmt.Sprintf("analysis backend URL is not configured and host %q is not a local address", e.Host)
}

// Classification implements analysis.Classifier.
func (e *ConfigError) Classification() analysis.Classification {
	return analysis.Classification{Kind: analysis.KindAPI, Reason: analysis.ReasonConfig}
}

// ResolveBaseURL picks the analysis endpoint base. An explicit base URL wins;
// otherwise a local or private host gets the fallback port; anything else is a
// ConfigError.
func ResolveBaseURL(baseURL, host string, fallbackPort int) (string, error) {
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		return trimmed, nil
	}
	if !IsLocalHost(host) {
		return "", &ConfigError{Host: host}
	}
	if fallbackPort <= 0 {
		fallbackPort = DefaultFallbackPort
	}
	h := host
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil && addr.Is6() && !addr.Is4In6() {
		h = "[" + addr.String() + "]"
	}
	return "http://" + h + ":" + strconv.Itoa(fallbackPort), nil
}

// IsLocalHost reports whether host is loopback, an RFC 1918 IPv4 address, or
// carries the .local suffix.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}
	if addr.IsLoopback() {
		return true
	}
	return addr.Is4() && addr.IsPrivate()
}

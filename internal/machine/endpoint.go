package machine

import "strings"

// DefaultEndpoint names the built-in offline session. It always exists and is
// never a connect or disconnect target.
const DefaultEndpoint = "default"

// NormalizeEndpoint trims whitespace and trailing slashes and lower-cases the
// endpoint so one controller never registers under two spellings.
func NormalizeEndpoint(endpoint string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(endpoint))
	normalized = strings.TrimRight(normalized, "/")
	if normalized == "" {
		return "", endpointError(endpoint, ErrInvalidEndpoint)
	}
	return normalized, nil
}

package relay

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originPolicy decides which browser origins may open a socket. Requests
// without an Origin header come from non-browser clients and are allowed.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   zerolog.Logger
}

func newOriginPolicy(origins []string, logger zerolog.Logger) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins)), logger: logger}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
		case trimmed == "*":
			p.allowAll = true
		default:
			normalized, ok := normalizeOrigin(trimmed)
			if !ok {
				logger.Warn().Str("origin", origin).Msg("ignoring invalid origin")
				continue
			}
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// check is the upgrader's CheckOrigin.
func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allows(origin) {
		return true
	}
	p.logger.Warn().Str("origin", origin).Msg("blocked socket from disallowed origin")
	return false
}

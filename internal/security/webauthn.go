package security

import (
	"net/url"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/settings"
)

// RelyingParty is the resolved relying party identity.
type RelyingParty struct {
	ID      string
	Name    string
	Origins []string
}

// ResolveRelyingParty merges the static WebAuthn config with DB-backed overrides.
// Origins from the settings table win over configured ones; the RP ID falls back to
// the host of the first origin when neither source names one.
func ResolveRelyingParty(cfg config.WebAuthnConfig) RelyingParty {
	rp := RelyingParty{
		ID:      strings.TrimSpace(cfg.RPID),
		Name:    strings.TrimSpace(cfg.RPName),
		Origins: cfg.Origins,
	}
	if override := settings.String(settings.WebAuthnRPNameKey); override != "" {
		rp.Name = override
	}

	originsOverridden := false
	if origins := settings.Strings(settings.WebAuthnOriginsKey); len(origins) > 0 {
		rp.Origins = origins
		originsOverridden = true
	} else if origin := settings.String(settings.WebAuthnOriginKey); origin != "" {
		rp.Origins = []string{origin}
		originsOverridden = true
	}

	switch override := settings.String(settings.WebAuthnRPIDKey); {
	case override != "":
		rp.ID = override
	case originsOverridden || rp.ID == "":
		if derived := deriveRPIDFromOrigins(rp.Origins); derived != "" {
			rp.ID = derived
		}
	}
	return rp
}

// NewWebAuthn builds the WebAuthn relying party used by both ceremonies.
func NewWebAuthn(cfg config.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	rp := ResolveRelyingParty(cfg)
	timeout := webauthn.TimeoutConfig{
		Enforce:    true,
		Timeout:    cfg.ChallengeTTL,
		TimeoutUVD: cfg.ChallengeTTL,
	}
	return webauthn.New(&webauthn.Config{
		RPID:          rp.ID,
		RPDisplayName: rp.Name,
		RPOrigins:     rp.Origins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
}

// deriveRPIDFromOrigins extracts an RP ID from the configured origins.
func deriveRPIDFromOrigins(origins []string) string {
	for _, origin := range origins {
		if host := originHost(origin); host != "" {
			return host
		}
	}
	return ""
}

// originHost parses an origin string and returns its hostname.
func originHost(origin string) string {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimSpace(parsed.Hostname())
}

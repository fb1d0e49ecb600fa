package settings

// DB config keys that override the relying-party configuration.
const (
	// WebAuthnRPNameKey overrides the relying party display name.
	WebAuthnRPNameKey = "WEB_AUTHN_RP_NAME"
	// WebAuthnRPIDKey overrides the relying party ID.
	WebAuthnRPIDKey = "WEB_AUTHN_RPID"
	// WebAuthnOriginKey overrides the accepted origin with a single value.
	WebAuthnOriginKey = "WEB_AUTHN_ORIGIN"
	// WebAuthnOriginsKey overrides the accepted origins with a list; it wins over WebAuthnOriginKey.
	WebAuthnOriginsKey = "WEB_AUTHN_ORIGINS"
)

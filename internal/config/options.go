package config

import "time"

// Core option keys.
const (
	KeyAutorun               = "autorun"
	KeyBeaconURL             = "beacon_url"
	KeyBeaconType            = "beacon_type"
	KeyBeaconAuthToken       = "beacon_auth_token"
	KeyBeaconWithCredentials = "beacon_with_credentials"
	KeyBeaconDisableNative   = "beacon_disable_sendbeacon"
	KeyBeaconURLsAllowed     = "beacon_urls_allowed"
	KeySiteDomain            = "site_domain"
	KeyStripQueryString      = "strip_query_string"
	KeyWait                  = "wait"
	KeySessionExpiry         = "session_expiry"
	KeyLogLevel              = "log_level"
)

// DefaultSessionExpiry ends a session after this much idle time.
const DefaultSessionExpiry = 30 * time.Minute

// Options are the typed core options.
type Options struct {
	Autorun               bool
	BeaconURL             string
	BeaconType            string
	BeaconAuthToken       string
	BeaconWithCredentials bool
	BeaconDisableNative   bool
	BeaconURLsAllowed     []string
	SiteDomain            string
	StripQueryString      bool
	Wait                  bool
	SessionExpiry         time.Duration
	LogLevel              string
}

// Defaults returns the built-in default layer.
func Defaults() map[string]any {
	return map[string]any{
		KeyAutorun:               true,
		KeyBeaconType:            "AUTO",
		KeyBeaconWithCredentials: false,
		KeyBeaconDisableNative:   false,
		KeyStripQueryString:      false,
		KeyWait:                  false,
		KeySessionExpiry:         int64(DefaultSessionExpiry / time.Millisecond),
		KeyLogLevel:              "info",
	}
}

// OptionsFrom reads the core options from a root section.
func OptionsFrom(s Section) Options {
	return Options{
		Autorun:               s.Bool(KeyAutorun, true),
		BeaconURL:             s.String(KeyBeaconURL, ""),
		BeaconType:            s.String(KeyBeaconType, "AUTO"),
		BeaconAuthToken:       s.String(KeyBeaconAuthToken, ""),
		BeaconWithCredentials: s.Bool(KeyBeaconWithCredentials, false),
		BeaconDisableNative:   s.Bool(KeyBeaconDisableNative, false),
		BeaconURLsAllowed:     s.Strings(KeyBeaconURLsAllowed),
		SiteDomain:            s.String(KeySiteDomain, ""),
		StripQueryString:      s.Bool(KeyStripQueryString, false),
		Wait:                  s.Bool(KeyWait, false),
		SessionExpiry:         s.Duration(KeySessionExpiry, DefaultSessionExpiry),
		LogLevel:              s.String(KeyLogLevel, "info"),
	}
}

package event

import "strings"

// Canonical event names.
const (
	PageReady         = "page_ready"
	PageUnload        = "page_unload"
	BeforeUnload      = "before_unload"
	DOMLoaded         = "dom_loaded"
	VisibilityChanged = "visibility_changed"
	PrerenderToVis    = "prerender_to_visible"
	BeforeBeacon      = "before_beacon"
	Beacon            = "beacon"
	PageLoadBeacon    = "page_load_beacon"
	BeforeEarlyBeacon = "before_early_beacon"
	XHRLoad           = "xhr_load"
	XHRInit           = "xhr_init"
	XHRSend           = "xhr_send"
	XHRError          = "xhr_error"
	Click             = "click"
	FormSubmit        = "form_submit"
	Config            = "config"
	SPAInit           = "spa_init"
	SPANavigation     = "spa_navigation"
	SPACancel         = "spa_cancel"
	Error             = "error"
	NetInfo           = "netinfo"
	RageClick         = "rage_click"
)

// CoreEvents lists the events registered by the agent at construction.
var CoreEvents = []string{
	PageReady, PageUnload, BeforeUnload, DOMLoaded, VisibilityChanged,
	PrerenderToVis, BeforeBeacon, Beacon, PageLoadBeacon, BeforeEarlyBeacon,
	XHRLoad, XHRInit, XHRSend, XHRError, Click, FormSubmit, Config,
	SPAInit, SPANavigation, SPACancel, Error, NetInfo, RageClick,
}

var aliases = map[string]string{
	"onload":         PageReady,
	"onunload":       PageUnload,
	"onbeforeunload": BeforeUnload,
	"xhr_complete":   XHRLoad,
}

// publicEvents are mirrored to the PublicSink.
var publicEvents = map[string]bool{
	PageReady:      true,
	PageUnload:     true,
	BeforeUnload:   true,
	BeforeBeacon:   true,
	Beacon:         true,
	PageLoadBeacon: true,
	XHRLoad:        true,
	SPAInit:        true,
	SPANavigation:  true,
	SPACancel:      true,
	Config:         true,
	Error:          true,
	RageClick:      true,
}

// noFlush events are part of the beacon lifecycle and must not trigger a
// beacon flush.
var noFlush = map[string]bool{
	BeforeBeacon:      true,
	Beacon:            true,
	BeforeEarlyBeacon: true,
}

// Normalize lower-cases name and translates legacy aliases.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// IsPublic reports whether name is mirrored to the public sink.
func IsPublic(name string) bool {
	return publicEvents[Normalize(name)]
}

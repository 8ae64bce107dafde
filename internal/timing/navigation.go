package timing

import "time"

// Navigation types.
const (
	NavigateNavigate    = "navigate"
	NavigateReload      = "reload"
	NavigateBackForward = "back_forward"
	NavigatePrerender   = "prerender"
)

// Navigation is the timing of the hard page navigation. Zero times are
// unknown.
type Navigation struct {
	Type          string
	RedirectCount int

	NavigationStart            time.Time
	RedirectStart              time.Time
	RedirectEnd                time.Time
	FetchStart                 time.Time
	DomainLookupStart          time.Time
	DomainLookupEnd            time.Time
	ConnectStart               time.Time
	SecureConnectionStart      time.Time
	ConnectEnd                 time.Time
	RequestStart               time.Time
	ResponseStart              time.Time
	ResponseEnd                time.Time
	DOMLoading                 time.Time
	DOMInteractive             time.Time
	DOMContentLoadedEventStart time.Time
	DOMContentLoadedEventEnd   time.Time
	DOMComplete                time.Time
	LoadEventStart             time.Time
	LoadEventEnd               time.Time
}

// Valid reports whether the navigation start is known.
func (n Navigation) Valid() bool {
	return !n.NavigationStart.IsZero()
}

// BackEnd returns responseStart - navigationStart, which includes
// redirects. It is zero when either is unknown.
func (n Navigation) BackEnd() time.Duration {
	if n.NavigationStart.IsZero() || n.ResponseStart.IsZero() {
		return 0
	}
	return n.ResponseStart.Sub(n.NavigationStart)
}

// Marks returns every known timestamp in Unix milliseconds, keyed by the
// nt_* beacon names.
func (n Navigation) Marks() map[string]int64 {
	out := make(map[string]int64)
	if !n.Valid() {
		return out
	}
	for name, t := range map[string]time.Time{
		"nt_nav_st":            n.NavigationStart,
		"nt_red_st":            n.RedirectStart,
		"nt_red_end":           n.RedirectEnd,
		"nt_fet_st":            n.FetchStart,
		"nt_dns_st":            n.DomainLookupStart,
		"nt_dns_end":           n.DomainLookupEnd,
		"nt_con_st":            n.ConnectStart,
		"nt_ssl_st":            n.SecureConnectionStart,
		"nt_con_end":           n.ConnectEnd,
		"nt_req_st":            n.RequestStart,
		"nt_res_st":            n.ResponseStart,
		"nt_res_end":           n.ResponseEnd,
		"nt_domloading":        n.DOMLoading,
		"nt_domint":            n.DOMInteractive,
		"nt_domcontloaded_st":  n.DOMContentLoadedEventStart,
		"nt_domcontloaded_end": n.DOMContentLoadedEventEnd,
		"nt_domcomp":           n.DOMComplete,
		"nt_load_st":           n.LoadEventStart,
		"nt_load_end":          n.LoadEventEnd,
	} {
		if !t.IsZero() {
			out[name] = t.UnixMilli()
		}
	}
	return out
}

// Package autoxhr instruments outgoing HTTP requests.
//
// Instrument wraps an *http.Client's transport so every request is tracked
// like a browser XHR: xhr_init and xhr_send fire when it starts, a resource
// timing entry is recorded when its body has been read, the pending
// mutation event is told when it finished, and xhr_error fires on failure.
// Dispose restores every wrapped client.
//
// Hosts that observe network traffic some other way use Begin and End
// directly.
//
// Exclude and always-send rules are ordered lists; the first rule that
// equals the URL, or whose regular expression matches it, wins.
package autoxhr

package mutation

import (
	"strings"

	"github.com/dshills/rumbeacon/internal/dom"
)

// ResourceURL returns the URL a node will fetch and whether the node is a
// resource worth waiting for.
func ResourceURL(n *dom.Node) (string, bool) {
	if n == nil || !n.IsElement() {
		return "", false
	}

	var url string
	switch n.Tag {
	case "IMG", "IFRAME":
		url = n.Attr("src")
	case "IMAGE":
		url = n.Attr("href")
		if url == "" {
			url = n.Attr("xlink:href")
		}
	case "LINK":
		if !strings.Contains(strings.ToLower(n.Attr("rel")), "stylesheet") {
			return "", false
		}
		url = n.Attr("href")
	default:
		return "", false
	}

	url = strings.TrimSpace(url)
	if url == "" || hasScheme(url, "javascript:", "about:", "data:") {
		return url, false
	}
	if n.Tag == "IMG" && n.Width > 0 && n.Height > 0 && n.Width <= 1 && n.Height <= 1 {
		return url, false
	}
	if n.Hidden() || n.Complete {
		return url, false
	}
	return url, true
}

func hasScheme(url string, schemes ...string) bool {
	lower := strings.ToLower(url)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

func isURLAttr(name string) bool {
	switch name {
	case "src", "href", "xlink:href":
		return true
	}
	return false
}

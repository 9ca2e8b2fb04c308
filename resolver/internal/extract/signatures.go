package extract

import (
	"net/url"
	"path"
	"strings"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
)

// Signature recognises a resource URI in intercepted traffic. Empty fields
// match anything; a signature with every field empty matches nothing.
type Signature struct {
	Name         string `yaml:"name"`
	HostSuffix   string `yaml:"host_suffix"`
	PathContains string `yaml:"path_contains"`
	QueryKey     string `yaml:"query_key"`
}

// DefaultSignatures are tried in order.
var DefaultSignatures = []Signature{
	{Name: "dlink", HostSuffix: "1024terabox.com", PathContains: "/file/"},
	{Name: "dlink", HostSuffix: "terabox.com", PathContains: "/file/"},
	{Name: "dlink", HostSuffix: "1024tera.com", PathContains: "/file/"},
	{Name: "dlink", HostSuffix: "teraboxcdn.com", PathContains: "/file/"},
	{Name: "media", PathContains: ".mp4"},
	{Name: "download-api", PathContains: "/share/download", QueryKey: "sign"},
}

var staticExtensions = map[string]bool{
	".js": true, ".mjs": true, ".css": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
}

func (s Signature) empty() bool {
	return s.HostSuffix == "" && s.PathContains == "" && s.QueryKey == ""
}

func (s Signature) match(u *url.URL) bool {
	if s.empty() {
		return false
	}
	if s.HostSuffix != "" {
		host := strings.ToLower(u.Hostname())
		suffix := strings.ToLower(s.HostSuffix)
		if host != suffix && !strings.HasSuffix(host, "."+suffix) {
			return false
		}
	}
	if s.PathContains != "" && !strings.Contains(u.Path, s.PathContains) {
		return false
	}
	if s.QueryKey != "" && !u.Query().Has(s.QueryKey) {
		return false
	}
	return true
}

func isStaticAsset(u *url.URL) bool {
	return staticExtensions[strings.ToLower(path.Ext(u.Path))]
}

// matchIntercepted returns the first entry matching the first signature
// that matches anything. Signature order outranks arrival order.
func matchIntercepted(sigs []Signature, entries []browser.InterceptedRequest) (string, string, bool) {
	parsed := make([]*url.URL, len(entries))
	for i, e := range entries {
		u, err := url.Parse(e.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || isStaticAsset(u) {
			continue
		}
		parsed[i] = u
	}
	for _, sig := range sigs {
		for i, u := range parsed {
			if u != nil && sig.match(u) {
				return entries[i].URL, sig.Name, true
			}
		}
	}
	return "", "", false
}

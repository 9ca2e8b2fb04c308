// Package canon turns share links from any TeraBox mirror domain into the
// single authoritative form the resolver navigates to.
//
// Normalisation is one ordered table of rewrite rules applied exactly once.
// The only token-level rewrite, stripping a spurious leading "1", lives in
// its own function (stripSpuriousPrefix) so it can be validated and removed
// independently.
package canon

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// DefaultAuthority is the host every share link is rewritten to.
const DefaultAuthority = "1024terabox.com"

// DefaultAliases are the mirror hosts accepted as input.
var DefaultAliases = []string{
	"terabox.com",
	"teraboxurl.com",
	"teraboxapp.com",
	"terabox.app",
	"1024tera.com",
	"1024terabox.com",
	"teraboxlink.com",
	"terasharelink.com",
	"freeterabox.com",
	"nephobox.com",
	"4funbox.com",
	"mirrobox.com",
	"momerybox.com",
}

// ErrInvalidLink is matched by every *InvalidLinkError.
var ErrInvalidLink = errors.New("invalid link")

// InvalidLinkError reports input that cannot be canonicalized.
type InvalidLinkError struct {
	Input  string
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("canon: invalid link %q: %s", e.Input, e.Reason)
}

func (e *InvalidLinkError) Is(target error) bool { return target == ErrInvalidLink }

// Target is a canonicalized share link.
type Target struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Canonicalizer rewrites share links onto one authoritative host.
// It is immutable after New and safe for concurrent use.
type Canonicalizer struct {
	authority string
	aliases   map[string]bool
	rules     []rule
}

// New builds a Canonicalizer for the given authoritative host and mirror
// aliases. The authority is always accepted, listed or not.
func New(authority string, aliases []string) (*Canonicalizer, error) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if authority == "" {
		return nil, fmt.Errorf("canon: empty authoritative host")
	}

	set := map[string]bool{authority: true}
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		a = strings.TrimPrefix(a, "www.")
		if a != "" {
			set[a] = true
		}
	}
	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	// Longest first, so "1024terabox.com" is tried before "terabox.com".
	sort.Slice(hosts, func(i, j int) bool {
		if len(hosts[i]) != len(hosts[j]) {
			return len(hosts[i]) > len(hosts[j])
		}
		return hosts[i] < hosts[j]
	})
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	alt := strings.Join(quoted, "|")

	collapse, err := regexp.Compile(`(?i)^https://(?:(?:www\.)?(?:` + alt + `)/*)*(?:www\.)?(?:` + alt + `)(/|\?|#|$)`)
	if err != nil {
		return nil, fmt.Errorf("canon: compile host rule: %w", err)
	}

	return &Canonicalizer{
		authority: authority,
		aliases:   set,
		rules: []rule{
			{
				name: "scheme-repair",
				re:   regexp.MustCompile(`(?i)^(?:1024)?(?:https?:/{1,3})+`),
				repl: "https://",
			},
			{
				name: "scheme-missing",
				re:   regexp.MustCompile(`^([A-Za-z0-9.-]+\.[A-Za-z]{2,}(?:[/?#]|$))`),
				repl: "https://${1}",
			},
			{
				name: "host-collapse",
				re:   collapse,
				repl: "https://" + authority + "${1}",
			},
		},
	}, nil
}

var defaultCanonicalizer = func() *Canonicalizer {
	c, err := New(DefaultAuthority, DefaultAliases)
	if err != nil {
		panic(err)
	}
	return c
}()

// Canonicalize uses the default authority and alias list.
func Canonicalize(raw string) (Target, error) {
	return defaultCanonicalizer.Canonicalize(raw)
}

// Authority returns the authoritative host.
func (c *Canonicalizer) Authority() string { return c.authority }

// Canonicalize rewrites raw into a Target. Canonical URLs are fixed points.
//
// An input that is already exactly https://<authority>/s/<token> keeps its
// token as is, leading "1" included. Any other form of the same link (a
// query string, a www. prefix, a mirror host) has one leading "1" stripped.
// So https://1024terabox.com/s/1AbCdEf yields token 1AbCdEf while
// https://1024terabox.com/s/1AbCdEf?foo=1 yields AbCdEf.
func (c *Canonicalizer) Canonicalize(raw string) (Target, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return Target{}, &InvalidLinkError{Input: raw, Reason: "empty input"}
	}

	s := in
	for _, r := range c.rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}

	u, err := url.Parse(s)
	if err != nil {
		return Target{}, &InvalidLinkError{Input: raw, Reason: err.Error()}
	}
	if u.Scheme != "https" {
		return Target{}, &InvalidLinkError{Input: raw, Reason: "unsupported scheme"}
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return Target{}, &InvalidLinkError{Input: raw, Reason: "bad host " + u.Hostname()}
	}
	host = strings.TrimPrefix(host, "www.")
	if !c.aliases[host] {
		return Target{}, &InvalidLinkError{Input: raw, Reason: "unknown host " + u.Hostname()}
	}

	var token string
	if surl := u.Query().Get("surl"); surl != "" {
		token = surl
	} else {
		rest, ok := strings.CutPrefix(u.Path, "/s/")
		if !ok {
			return Target{}, &InvalidLinkError{Input: raw, Reason: "no share token"}
		}
		token, _, _ = strings.Cut(rest, "/")
		if !c.isCanonical(in) {
			token = stripSpuriousPrefix(token)
		}
	}

	if !tokenRe.MatchString(token) {
		return Target{}, &InvalidLinkError{Input: raw, Reason: "malformed share token"}
	}

	return Target{
		URL:   "https://" + c.authority + "/s/" + token,
		Token: token,
	}, nil
}

func (c *Canonicalizer) isCanonical(s string) bool {
	rest, ok := strings.CutPrefix(s, "https://"+c.authority+"/s/")
	return ok && tokenRe.MatchString(rest)
}

// stripSpuriousPrefix drops one leading "1" from a share token. Links copied
// out of the mobile apps carry it; the web share page does not accept it.
// This is a heuristic observed on real links, not a documented format.
func stripSpuriousPrefix(token string) string {
	if len(token) > 1 && token[0] == '1' {
		return token[1:]
	}
	return token
}

package extract

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultSelectors locate a resource link in the rendered document.
var DefaultSelectors = []string{
	"a[href*='download']",
	"a[href*='.mp4']",
	"video source[src]",
	"video[src]",
	"a[class*='dl']",
}

// DefaultNameSelectors locate the file's display name.
var DefaultNameSelectors = []string{
	".file-name",
	".filename",
	"meta[property='og:title']",
}

// matchDocument returns the first usable href/src of the first selector
// that yields one, resolved against base.
func matchDocument(doc *goquery.Document, selectors []string, base string) (string, string, bool) {
	baseURL, _ := url.Parse(base)
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw, ok := s.Attr("href")
			if !ok || strings.TrimSpace(raw) == "" {
				raw, ok = s.Attr("src")
			}
			if !ok {
				return true
			}
			if abs := resolveLink(baseURL, raw); abs != "" {
				found = abs
				return false
			}
			return true
		})
		if found != "" {
			return found, sel, true
		}
	}
	return "", "", false
}

func resolveLink(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

// displayName picks the first non-empty candidate from selectors, then
// <title>, reduced to plain single-line text.
func displayName(doc *goquery.Document, selectors []string, policy *bluemonday.Policy) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		text, ok := s.Attr("content")
		if !ok {
			text = s.Text()
		}
		if name := cleanName(text, policy); name != "" {
			return name
		}
	}
	return cleanName(doc.Find("title").First().Text(), policy)
}

func cleanName(s string, policy *bluemonday.Policy) string {
	s = html.UnescapeString(policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Package discover extracts dataset fragment links from the open-data
// portal's listing page. The portal publishes one download link per city;
// running discovery against the page yields the fragment suffixes and
// display names the pipeline config needs, so new cities don't have to be
// transcribed by hand.
package discover

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selector describes where the fragment links live on the page.
type Selector struct {
	// CSS matches the anchor elements (e.g. "a.resource-url-analytics").
	CSS string

	// Attr is the attribute carrying the link. Empty means "href".
	Attr string

	// Match is an optional regexp applied to the resolved link. When it
	// has a capturing group, group 1 becomes the fragment suffix;
	// otherwise the full match does. Links it does not match are
	// dropped. Empty keeps the whole resolved link as the suffix.
	Match string
}

// Fragment is one discovered dataset link: the suffix to append to the
// configured base URL, the anchor text as display name, and the absolute
// link for reference.
type Fragment struct {
	Suffix string `json:"suffix"`
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
}

// Fragments parses page and returns the fragments its links describe, in
// DOM order. Relative hrefs resolve against pageURL. Anchors without the
// attribute, with non-http(s) targets, or rejected by sel.Match produce no
// fragment; they are skipped, not errors.
func Fragments(page, pageURL string, sel Selector) ([]Fragment, error) {
	if strings.TrimSpace(sel.CSS) == "" {
		return nil, fmt.Errorf("discover: selector is empty")
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("discover: page url: %w", err)
	}

	var re *regexp.Regexp
	if strings.TrimSpace(sel.Match) != "" {
		re, err = regexp.Compile(sel.Match)
		if err != nil {
			return nil, fmt.Errorf("discover: invalid match regexp: %w", err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("discover: parse html: %w", err)
	}

	attr := sel.Attr
	if attr == "" {
		attr = "href"
	}

	var out []Fragment
	doc.Find(sel.CSS).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr(attr)
		if !ok {
			return
		}
		abs, ok := resolveLink(base, strings.TrimSpace(raw))
		if !ok {
			return
		}

		suffix := abs
		if re != nil {
			sm := re.FindStringSubmatch(abs)
			if len(sm) == 0 {
				return
			}
			if len(sm) > 1 {
				suffix = sm[1]
			} else {
				suffix = sm[0]
			}
		}
		if suffix == "" {
			return
		}

		out = append(out, Fragment{
			Suffix: suffix,
			Name:   strings.TrimSpace(s.Text()),
			URL:    abs,
		})
	})
	return out, nil
}

// resolveLink resolves href against base and keeps only http(s) targets.
// Fragments (#...) are stripped so the same document never appears twice.
func resolveLink(base *url.URL, href string) (string, bool) {
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

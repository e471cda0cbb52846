// Package inspect holds the page inspection primitives shared by the
// detection engine and the validation battery: DOM structure analysis over a
// serialized snapshot, and the in-page audit scripts with their result types.
package inspect

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// landmarkRoles maps structural tags to the ARIA role that satisfies the
// same landmark requirement.
var landmarkRoles = map[string]string{
	"header":  "banner",
	"nav":     "navigation",
	"main":    "main",
	"footer":  "contentinfo",
	"aside":   "complementary",
	"section": "region",
	"form":    "form",
}

// templateMarkerPattern spots unrendered template syntax leaking into text.
var templateMarkerPattern = regexp.MustCompile(`\{\{[^{}]*\}\}|<%[^%]*%>|\{%[^%]*%\}`)

// PageStructure is the structural summary of one DOM snapshot. html.Parse
// synthesizes missing html/head/body elements, so emptiness is judged by
// TextLength, not by element presence.
type PageStructure struct {
	Title           string
	TextLength      int             // Visible text length, whitespace collapsed.
	Landmarks       map[string]bool // Landmark tag -> present (tag or ARIA role).
	TemplateMarkers []string        // Raw template syntax found in visible text.
	InternalLinks   []string        // Same-host hrefs, resolved and deduplicated.
	ExternalLinks   []string
	Forms           int
}

// ParsePage builds a PageStructure from serialized HTML. baseURL scopes link
// classification; a link to another host is external.
func ParsePage(baseURL string, r io.Reader) (*PageStructure, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", baseURL)
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	ps := &PageStructure{Landmarks: make(map[string]bool)}
	seenLinks := make(map[string]bool)

	var text strings.Builder
	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		switch n.Type {
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			switch tag {
			case "script", "style", "noscript", "template":
				hidden = true
			case "title":
				if ps.Title == "" {
					ps.Title = strings.TrimSpace(textContent(n))
				}
				hidden = true
			case "form":
				ps.Forms++
			case "a":
				if href := attr(n, "href"); href != "" {
					classifyLink(ps, base, href, seenLinks)
				}
			}

			if _, ok := landmarkRoles[tag]; ok {
				ps.Landmarks[tag] = true
			}
			if role := strings.ToLower(attr(n, "role")); role != "" {
				for lmTag, lmRole := range landmarkRoles {
					if lmRole == role {
						ps.Landmarks[lmTag] = true
					}
				}
			}

		case html.TextNode:
			if !hidden {
				trimmed := strings.TrimSpace(n.Data)
				if trimmed != "" {
					text.WriteString(trimmed)
					text.WriteString(" ")
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(doc, false)

	visible := strings.TrimSpace(text.String())
	ps.TextLength = len(visible)
	ps.TemplateMarkers = dedupe(templateMarkerPattern.FindAllString(visible, -1))

	return ps, nil
}

// MissingLandmarks reports which of the required landmarks the page lacks,
// in the order they were required.
func (ps *PageStructure) MissingLandmarks(required []string) []string {
	var missing []string
	for _, tag := range required {
		if !ps.Landmarks[strings.ToLower(tag)] {
			missing = append(missing, tag)
		}
	}
	return missing
}

func classifyLink(ps *PageStructure, base *url.URL, href string, seen map[string]bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "data:") {
		return
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return
	}

	resolved.Fragment = ""
	link := resolved.String()
	if seen[link] {
		return
	}
	seen[link] = true

	if resolved.Host == base.Host {
		ps.InternalLinks = append(ps.InternalLinks, link)
	} else {
		ps.ExternalLinks = append(ps.ExternalLinks, link)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

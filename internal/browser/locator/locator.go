// Package locator finds elements in a page snapshot through ordered lists of
// strategies, the first strategy that matches wins.
package locator

import (
	"fmt"
	"regexp"
	"strings"

	"portalwatch-backend/lib/htmlutil"
	"portalwatch-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Strategy is one way of finding an element.
//
// Selector picks the candidates, the remaining fields filter them. Elements
// the markup hides are never candidates, see Visible. Text
// matching is done on the element's rendered text, or on its value attribute
// for inputs, and ignores case and accents.
type Strategy struct {
	Name     string
	Selector string

	// TextAny keeps candidates whose text contains at least one entry.
	TextAny []string
	// TextAll keeps candidates whose text contains every entry.
	TextAll []string

	// Attr names an attribute whose value must contain one of AttrAny.
	Attr    string
	AttrAny []string

	// Exclude drops candidates matching this selector.
	Exclude string

	// Last picks the last surviving candidate instead of the first.
	Last bool
}

func (s Strategy) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Selector
}

// Match is the element a strategy found.
type Match struct {
	Strategy string
	// Selector uniquely identifies the element in the snapshot it was found in.
	Selector string
	Element  *goquery.Selection
}

// Text returns the element's rendered text, or its value for inputs.
func Text(el *goquery.Selection) string {
	switch goquery.NodeName(el) {
	case "input":
		return el.AttrOr("value", "")
	case "select", "textarea":
		return ""
	}
	return htmlutil.SelectionText(el)
}

var hiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)

// Visible reports whether el is rendered as far as the markup tells: hidden
// inputs, the hidden attribute and inline styles hiding el or an ancestor
// make it invisible. Stylesheets are not consulted.
func Visible(el *goquery.Selection) bool {
	if goquery.NodeName(el) == "input" && strings.EqualFold(el.AttrOr("type", ""), "hidden") {
		return false
	}
	for n := el.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		for _, attr := range n.Attr {
			switch strings.ToLower(attr.Key) {
			case "hidden":
				return false
			case "style":
				if hiddenStyle.MatchString(attr.Val) {
					return false
				}
			}
		}
	}
	return true
}

func (s Strategy) accepts(el *goquery.Selection) bool {
	if !Visible(el) {
		return false
	}
	if s.Exclude != "" && el.Is(s.Exclude) {
		return false
	}
	if len(s.TextAny) > 0 || len(s.TextAll) > 0 {
		text := Text(el)
		if len(s.TextAny) > 0 && !textutil.ContainsAnyFold(text, s.TextAny) {
			return false
		}
		for _, needle := range s.TextAll {
			if !textutil.ContainsAnyFold(text, []string{needle}) {
				return false
			}
		}
	}
	if s.Attr != "" {
		value, ok := el.Attr(s.Attr)
		if !ok {
			return false
		}
		if len(s.AttrAny) > 0 && !textutil.ContainsAnyFold(value, s.AttrAny) {
			return false
		}
	}
	return true
}

// Candidates returns every element the strategy accepts in document order.
func (s Strategy) Candidates(root *goquery.Selection) []*goquery.Selection {
	out := []*goquery.Selection{}
	root.Find(s.Selector).Each(func(_ int, el *goquery.Selection) {
		if s.accepts(el) {
			out = append(out, el)
		}
	})
	return out
}

// Find evaluates the strategies in order and returns the first match.
func Find(doc *goquery.Document, strategies []Strategy) (Match, bool) {
	for _, s := range strategies {
		candidates := s.Candidates(doc.Selection)
		if len(candidates) == 0 {
			continue
		}
		el := candidates[0]
		if s.Last {
			el = candidates[len(candidates)-1]
		}
		return Match{
			Strategy: s.String(),
			Selector: UniqueSelector(doc, el),
			Element:  el,
		}, true
	}
	return Match{}, false
}

// FindAll returns every element found by the first strategy that finds anything.
func FindAll(doc *goquery.Document, strategies []Strategy) []Match {
	for _, s := range strategies {
		candidates := s.Candidates(doc.Selection)
		if len(candidates) == 0 {
			continue
		}
		out := make([]Match, len(candidates))
		for i, el := range candidates {
			out[i] = Match{
				Strategy: s.String(),
				Selector: UniqueSelector(doc, el),
				Element:  el,
			}
		}
		return out
	}
	return nil
}

func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\a `)
	return `"` + s + `"`
}

func isUnique(doc *goquery.Document, selector string, el *goquery.Selection) bool {
	found := doc.Find(selector)
	return found.Length() == 1 && found.Nodes[0] == el.Nodes[0]
}

// UniqueSelector builds a CSS selector that matches only el in doc, it
// prefers id and name attributes and falls back to a :nth-child path from
// the root element.
func UniqueSelector(doc *goquery.Document, el *goquery.Selection) string {
	tag := goquery.NodeName(el)
	for _, attr := range []string{"id", "name"} {
		value, ok := el.Attr(attr)
		if !ok || value == "" {
			continue
		}
		selector := fmt.Sprintf("%s[%s=%s]", tag, attr, cssString(value))
		if isUnique(doc, selector, el) {
			return selector
		}
	}

	var parts []string
	for n := el.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			parts = append(parts, n.Data)
			break
		}
		index := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				index++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", n.Data, index))
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

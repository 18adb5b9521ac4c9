// Package extractor walks an XHTML tree and yields its translatable text
// fragments in document order. Each fragment separates the leading and
// trailing whitespace from the core text so that substitution preserves
// the document's original formatting exactly.
package extractor

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTags are the markup regions whose descendant text is never
// translated: code, script, style, preformatted blocks and vector/math
// markup.
var skipTags = map[string]bool{
	"code":   true,
	"pre":    true,
	"script": true,
	"style":  true,
	"kbd":    true,
	"samp":   true,
	"svg":    true,
	"math":   true,
}

// Fragment is one minimal unit of translatable text. The text node is
// addressed by its parent element and child position rather than a node
// pointer, so replacement stays well defined even after sibling edits.
type Fragment struct {
	Parent *html.Node
	Index  int

	Leading  string
	Core     string
	Trailing string
}

// Extract returns the translatable fragments of doc in document order.
// A text node is excluded when its trimmed content is empty or when its
// nearest element ancestor is in the skip set. Comments are not text
// nodes and never appear. The result is computed fresh from the current
// tree — Extract holds no state between calls.
func Extract(doc *html.Node) []Fragment {
	var frags []Fragment
	walk(doc, false, &frags)
	return frags
}

func walk(n *html.Node, skipped bool, frags *[]Fragment) {
	if n.Type == html.ElementNode && skipTags[n.Data] {
		skipped = true
	}

	index := 0
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode && !skipped {
			if frag, ok := split(n, index, child.Data); ok {
				*frags = append(*frags, frag)
			}
		} else {
			walk(child, skipped, frags)
		}
		index++
	}
}

// split separates text into leading whitespace, core, and trailing
// whitespace. Returns ok=false when the core is empty.
func split(parent *html.Node, index int, text string) (Fragment, bool) {
	core := strings.TrimLeft(text, " \t\r\n")
	leading := text[:len(text)-len(core)]
	core = strings.TrimRight(core, " \t\r\n")
	if core == "" {
		return Fragment{}, false
	}
	trailing := text[len(leading)+len(core):]

	return Fragment{
		Parent:   parent,
		Index:    index,
		Leading:  leading,
		Core:     core,
		Trailing: trailing,
	}, true
}

// Replace writes leading + text + trailing into the fragment's text node,
// resolved by position. Returns false if the position no longer holds a
// text node.
func Replace(frag Fragment, text string) bool {
	node := frag.Parent.FirstChild
	for i := 0; node != nil && i < frag.Index; i++ {
		node = node.NextSibling
	}
	if node == nil || node.Type != html.TextNode {
		return false
	}
	node.Data = frag.Leading + text + frag.Trailing
	return true
}

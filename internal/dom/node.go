package dom

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element builds a detached element. Detached nodes are private to their
// builder until appended, so no locking is needed.
func Element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// TextNode builds a detached text node
func TextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// Attr is shorthand for an html.Attribute
func Attr(key, val string) html.Attribute {
	return html.Attribute{Key: key, Val: val}
}

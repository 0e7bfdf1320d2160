package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"handy/internal/surface"
)

// toHTML converts n into an x/net/html tree for rendering.
func toHTML(n *node) *html.Node {
	if n.kind == surface.NodeText {
		return &html.Node{Type: html.TextNode, Data: n.data}
	}
	h := &html.Node{
		Type:     html.ElementNode,
		Data:     n.tag,
		DataAtom: atom.Lookup([]byte(n.tag)),
		Attr:     append([]html.Attribute(nil), n.attrs...),
	}
	for _, c := range n.children {
		h.AppendChild(toHTML(c))
	}
	return h
}

// fromHTML converts a parsed fragment node. Comments, doctypes and other
// node types are dropped.
func fromHTML(h *html.Node, doc *Document) *node {
	switch h.Type {
	case html.TextNode:
		return &node{kind: surface.NodeText, data: h.Data, doc: doc}
	case html.ElementNode:
		n := &node{
			kind:  surface.NodeElement,
			tag:   strings.ToLower(h.Data),
			attrs: append([]html.Attribute(nil), h.Attr...),
			doc:   doc,
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			if child := fromHTML(c, doc); child != nil {
				child.parent = n
				n.children = append(n.children, child)
			}
		}
		if n.isFormField() {
			n.value, _ = n.getAttr("value")
			if n.tag == "textarea" {
				var b strings.Builder
				n.textContent(&b)
				n.value = b.String()
			}
			n.selStart = runeLen(n.value)
			n.selEnd = n.selStart
		}
		if n.tag == "iframe" && doc != nil {
			n.frame = doc.newFrame(n)
		}
		return n
	}
	return nil
}

func renderChildren(n *node) (string, error) {
	var buf bytes.Buffer
	for _, c := range n.children {
		if err := html.Render(&buf, toHTML(c)); err != nil {
			return "", fmt.Errorf("render markup: %w", err)
		}
	}
	return buf.String(), nil
}

func parseChildren(context *node, markup string) ([]*node, error) {
	tag := context.tag
	if tag == "" {
		tag = "div"
	}
	ctx := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	parsed, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	out := make([]*node, 0, len(parsed))
	for _, h := range parsed {
		if n := fromHTML(h, context.doc); n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

package dom

import (
	"fmt"
	"strings"

	"handy/internal/surface"
)

// compound is one comma-separated selector: an optional tag followed by
// class, id and attribute conditions. Combinators are not supported.
type compound struct {
	tag     string
	ids     []string
	classes []string
	attrs   []attrCond
}

type attrCond struct {
	name     string
	value    string
	hasValue bool
}

type selectorList []compound

func compileSelector(s string) (selectorList, error) {
	var list selectorList
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("dom: empty selector in %q", s)
		}
		c, err := parseCompound(part)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, nil
}

func isIdentChar(r byte) bool {
	return r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

func readIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[start:i], i
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	if s[0] == '*' {
		i = 1
	} else {
		c.tag, i = readIdent(s, 0)
		c.tag = strings.ToLower(c.tag)
	}
	for i < len(s) {
		switch s[i] {
		case '.', '#':
			var name string
			kind := s[i]
			name, i = readIdent(s, i+1)
			if name == "" {
				return c, fmt.Errorf("dom: bad selector %q", s)
			}
			if kind == '.' {
				c.classes = append(c.classes, name)
			} else {
				c.ids = append(c.ids, name)
			}
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("dom: unterminated attribute in %q", s)
			}
			cond, err := parseAttrCond(s[i+1 : i+end])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, cond)
			i += end + 1
		default:
			return c, fmt.Errorf("dom: unsupported selector %q", s)
		}
	}
	return c, nil
}

func parseAttrCond(s string) (attrCond, error) {
	name, rest, found := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return attrCond{}, fmt.Errorf("dom: bad attribute selector [%s]", s)
	}
	if !found {
		return attrCond{name: strings.ToLower(name)}, nil
	}
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') && rest[len(rest)-1] == rest[0] {
		rest = rest[1 : len(rest)-1]
	}
	return attrCond{name: strings.ToLower(name), value: rest, hasValue: true}, nil
}

func (c compound) matches(n *node) bool {
	if n.kind != surface.NodeElement {
		return false
	}
	if c.tag != "" && c.tag != n.tag {
		return false
	}
	for _, id := range c.ids {
		if v, _ := n.getAttr("id"); v != id {
			return false
		}
	}
	if len(c.classes) > 0 {
		v, _ := n.getAttr("class")
		have := strings.Fields(v)
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := n.getAttr(a.name)
		if !ok || a.hasValue && v != a.value {
			return false
		}
	}
	return true
}

func (l selectorList) matches(n *node) bool {
	for _, c := range l {
		if c.matches(n) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// collect returns descendants of root matching sel in document order.
func collect(root *node, sel selectorList) []surface.Element {
	var out []surface.Element
	root.walk(func(n *node) {
		if sel.matches(n) {
			out = append(out, (*Element)(n))
		}
	})
	return out
}

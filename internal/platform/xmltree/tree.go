// Package xmltree parses XML into a namespace-free tree. Element and
// attribute names keep only their local part, so lookups written against
// "Envelope.Body" match any prefix the sender chose.
package xmltree

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// TextKey is the AttributeMap key holding an element's text content.
const TextKey = "_text"

// Node is one element of a parsed document.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Parse reads data into a tree. The returned node is the document itself:
// its only child is the root element.
func Parse(data string) (*Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		return nil, fmt.Errorf("xmltree: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("xmltree: document has no root element")
	}
	return &Node{Children: []*Node{convert(root)}}, nil
}

func convert(el *etree.Element) *Node {
	n := &Node{Name: el.Tag}
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string]string, len(el.Attr))
		}
		n.Attrs[a.Key] = a.Value
	}

	var text strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			n.Children = append(n.Children, convert(t))
		case *etree.CharData:
			text.WriteString(t.Data)
		}
	}
	n.Text = strings.TrimSpace(text.String())
	return n
}

// Child returns the first child named name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child named name in document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path follows a chain of first-match children. It returns nil as soon as a
// step is missing.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Attr returns the attribute value, or "" when n is nil or lacks it.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// Value returns the node's content as a TextNode when it has no
// attributes, or as an AttributeMap carrying its text under TextKey. A nil
// node yields nil.
func (n *Node) Value() Value {
	if n == nil {
		return nil
	}
	if len(n.Attrs) == 0 {
		return TextNode(n.Text)
	}
	m := make(AttributeMap, len(n.Attrs)+1)
	for k, v := range n.Attrs {
		m[k] = v
	}
	if n.Text != "" {
		m[TextKey] = n.Text
	}
	return m
}

// String returns the node's text, whichever shape its value has.
func (n *Node) String() string {
	return Text(n.Value())
}

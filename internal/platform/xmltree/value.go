package xmltree

// Value is the content of an optional element: plain text when the element
// has no attributes, an attribute map otherwise.
type Value interface {
	String() string
	isValue()
}

// TextNode is an element with only text content.
type TextNode string

func (t TextNode) String() string { return string(t) }
func (TextNode) isValue()         {}

// AttributeMap is an element with attributes. Its text, if any, is stored
// under TextKey.
type AttributeMap map[string]string

func (m AttributeMap) String() string { return m[TextKey] }
func (AttributeMap) isValue()         {}

// Text returns the text carried by v, or "" for a nil value.
func Text(v Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

package render

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/saiset-co/sai-og/types"
)

const textNodeName = "#text"

type element struct {
	name     string
	attrs    map[string]string
	children []*element
	text     string
}

func (el *element) attr(name string) (string, bool) {
	v, ok := el.attrs[name]
	return v, ok
}

func (el *element) attrOr(name, fallback string) string {
	if v, ok := el.attrs[name]; ok {
		return v
	}
	return fallback
}

// parseDocument builds the element tree of a resolved SVG document. Only the
// local part of names is kept, so xlink:href and href are the same key.
func parseDocument(markup string) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(markup))
	decoder.Strict = true
	decoder.Entity = xml.HTMLEntity

	var root *element
	var stack []*element

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.WrapKind(types.KindRenderError, err, "invalid markup")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{
				name:  t.Name.Local,
				attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, types.NewError(types.KindRenderError, "document has more than one root element")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, &element{name: textNodeName, text: string(t)})
		}
	}

	if root == nil {
		return nil, types.NewError(types.KindRenderError, "document is empty")
	}
	if root.name != "svg" {
		return nil, types.NewError(types.KindRenderError, "root element is <%s>, want <svg>", root.name)
	}

	return root, nil
}

// collectIDs indexes every element carrying an id, first occurrence wins.
func collectIDs(el *element, ids map[string]*element) {
	if id, ok := el.attrs["id"]; ok && id != "" {
		if _, exists := ids[id]; !exists {
			ids[id] = el
		}
	}
	for _, child := range el.children {
		if child.name != textNodeName {
			collectIDs(child, ids)
		}
	}
}

package templates

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/saiset-co/sai-og/types"
)

// validateSkeleton checks that the literal markup is well-formed XML with
// placeholders blanked out. Every if-chain contributes one branch per pass:
// pass k takes branch k (or the last one when the chain is shorter), so each
// branch is seen at least once. Loop bodies are expanded once.
func validateSkeleton(nodes []node) error {
	passes := maxBranches(nodes)
	if passes < 1 {
		passes = 1
	}

	for pass := 0; pass < passes; pass++ {
		var b strings.Builder
		writeSkeleton(&b, nodes, pass)

		if err := checkXML(b.String()); err != nil {
			return err
		}
	}

	return nil
}

func maxBranches(nodes []node) int {
	max := 0
	for _, n := range nodes {
		switch n := n.(type) {
		case *ifNode:
			count := len(n.branches) + 1
			if count > max {
				max = count
			}
			for _, br := range n.branches {
				if c := maxBranches(br.body); c > max {
					max = c
				}
			}
			if c := maxBranches(n.elseBody); c > max {
				max = c
			}
		case *forNode:
			if c := maxBranches(n.body); c > max {
				max = c
			}
		}
	}
	return max
}

func writeSkeleton(b *strings.Builder, nodes []node, pass int) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *textNode:
			b.WriteString(n.text)
		case *ifNode:
			if pass < len(n.branches) {
				writeSkeleton(b, n.branches[pass].body, pass)
			} else {
				writeSkeleton(b, n.elseBody, pass)
			}
		case *forNode:
			writeSkeleton(b, n.body, pass)
		}
	}
}

func checkXML(doc string) error {
	decoder := xml.NewDecoder(strings.NewReader(doc))
	decoder.Strict = true
	decoder.Entity = xml.HTMLEntity

	depth := 0
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := decoder.InputPos()
			return types.NewError(types.KindTemplateParseError, "line %d: malformed markup: %v", line, err)
		}

		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}

	if depth != 0 {
		return types.NewError(types.KindTemplateParseError, "malformed markup: %d unclosed element(s)", depth)
	}

	return nil
}

package uiview

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
)

// Node is one view in a uiautomator dump.
type Node struct {
	Text        string `xml:"text,attr"`
	ResourceID  string `xml:"resource-id,attr"`
	Class       string `xml:"class,attr"`
	ContentDesc string `xml:"content-desc,attr"`
	Clickable   string `xml:"clickable,attr"`
	Bounds      string `xml:"bounds,attr"`
	Nodes       []Node `xml:"node"`
}

// Hierarchy is the root element of a uiautomator dump.
type Hierarchy struct {
	XMLName  xml.Name `xml:"hierarchy"`
	Rotation string   `xml:"rotation,attr"`
	Nodes    []Node   `xml:"node"`
}

// ParseHierarchy decodes a uiautomator dump.
func ParseHierarchy(dump []byte) (*Hierarchy, error) {
	var h Hierarchy
	if err := xml.NewDecoder(bytes.NewReader(dump)).Decode(&h); err != nil {
		return nil, fmt.Errorf("parse view hierarchy: %w", err)
	}
	return &h, nil
}

// Find returns the first node, in document order, for which match is true.
func (h *Hierarchy) Find(match func(*Node) bool) *Node {
	for i := range h.Nodes {
		if n := h.Nodes[i].find(match); n != nil {
			return n
		}
	}
	return nil
}

func (n *Node) find(match func(*Node) bool) *Node {
	if match(n) {
		return n
	}
	for i := range n.Nodes {
		if found := n.Nodes[i].find(match); found != nil {
			return found
		}
	}
	return nil
}

var boundsRe = regexp.MustCompile(`^\[(\d+),(\d+)\]\[(\d+),(\d+)\]$`)

// ParseBounds parses a bounds attribute of the form "[x1,y1][x2,y2]".
func ParseBounds(s string) (Rect, error) {
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return Rect{}, fmt.Errorf("invalid bounds %q", s)
	}
	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Rect{}, fmt.Errorf("invalid bounds %q: %w", s, err)
		}
		v[i] = n
	}
	return Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// XMLLocator decodes the dump into a tree and matches the text attribute
// exactly. Views whose bounds cannot be parsed are skipped.
type XMLLocator struct{}

// Compile-time check that XMLLocator implements Locator.
var _ Locator = XMLLocator{}

// Locate implements Locator.
func (XMLLocator) Locate(dump []byte, label string) (Point, bool, error) {
	h, err := ParseHierarchy(dump)
	if err != nil {
		return Point{}, false, err
	}

	var rect Rect
	n := h.Find(func(n *Node) bool {
		if n.Text != label {
			return false
		}
		r, err := ParseBounds(n.Bounds)
		if err != nil {
			return false
		}
		rect = r
		return true
	})
	if n == nil {
		return Point{}, false, nil
	}
	return rect.Center(), true, nil
}

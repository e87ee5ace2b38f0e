package uiview

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
)

// PatternLocator matches the raw dump text against
// text="<label>"[^>]*bounds="[x1,y1][x2,y2]" without parsing the XML.
// The label is inserted into the pattern unescaped, so labels containing
// regexp metacharacters may not match. A label that does not compile is
// reported as a miss.
type PatternLocator struct{}

// Compile-time check that PatternLocator implements Locator.
var _ Locator = PatternLocator{}

// Locate implements Locator.
func (PatternLocator) Locate(dump []byte, label string) (Point, bool, error) {
	re, err := regexp.Compile(fmt.Sprintf(`text="%s"[^>]*bounds="\[(\d+),(\d+)\]\[(\d+),(\d+)\]"`, label))
	if err != nil {
		slog.Debug("[UI] label is not a valid pattern", "label", label, "error", err)
		return Point{}, false, nil
	}

	m := re.FindSubmatch(dump)
	if m == nil {
		return Point{}, false, nil
	}

	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(string(m[i+1]))
		if err != nil {
			return Point{}, false, fmt.Errorf("bounds value %q: %w", m[i+1], err)
		}
		v[i] = n
	}
	return Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}.Center(), true, nil
}

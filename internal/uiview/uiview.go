// Package uiview finds on-screen buttons on an Android device by dumping
// its view hierarchy with uiautomator and searching the dump for a label.
package uiview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/chaz8081/btp-android/internal/adb"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X, Y int
}

// Rect is a view's bounding box as reported by uiautomator: [X1,Y1][X2,Y2].
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Center returns the midpoint of r, rounded down. For any rectangle at
// least one pixel wide and high the result lies inside r.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Locator searches a serialized view hierarchy for a view whose text equals
// label. A miss returns ok == false and a nil error.
type Locator interface {
	Locate(dump []byte, label string) (p Point, ok bool, err error)
}

// NewLocator returns the locator named by kind: "xml" (default) or "pattern".
func NewLocator(kind string) (Locator, error) {
	switch kind {
	case "xml", "":
		return XMLLocator{}, nil
	case "pattern":
		return PatternLocator{}, nil
	default:
		return nil, fmt.Errorf("uiview: unknown locator %q (supported: xml, pattern)", kind)
	}
}

var dumpPathRe = regexp.MustCompile(`\S+\.xml`)

// Scraper dumps the view hierarchy of one device and locates buttons in it.
// The dump is pulled to a local file named after the device serial, so
// scrapers for different devices never share a path.
type Scraper struct {
	dev     *adb.Device
	locator Locator
	dir     string
}

// NewScraper returns a Scraper that pulls dumps into dir.
func NewScraper(dev *adb.Device, locator Locator, dir string) *Scraper {
	if locator == nil {
		locator = XMLLocator{}
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Scraper{dev: dev, locator: locator, dir: dir}
}

// LocalPath returns where this device's dump is written. Each dump
// overwrites the previous one.
func (s *Scraper) LocalPath() string {
	return filepath.Join(s.dir, "view-"+s.dev.Serial()+".xml")
}

// Dump serializes the current screen on the device, pulls it to LocalPath
// and returns its contents.
func (s *Scraper) Dump(ctx context.Context) ([]byte, error) {
	out, err := s.dev.Shell(ctx, "uiautomator", "dump")
	if err != nil {
		return nil, fmt.Errorf("uiview: dump: %w", err)
	}
	remote := dumpPathRe.FindString(out)
	if remote == "" {
		return nil, fmt.Errorf("uiview: no dump path in uiautomator output %q", out)
	}

	local := s.LocalPath()
	if err := s.dev.Pull(ctx, remote, local); err != nil {
		return nil, fmt.Errorf("uiview: %w", err)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("uiview: read dump: %w", err)
	}
	return data, nil
}

// FindButton dumps the screen and returns the centre of the first view
// labelled label. ok is false when no view matches.
func (s *Scraper) FindButton(ctx context.Context, label string) (Point, bool, error) {
	_, p, ok, err := s.FindFirst(ctx, label)
	return p, ok, err
}

// FindFirst dumps the screen once and tries each label in order, returning
// the first one found together with its centre.
func (s *Scraper) FindFirst(ctx context.Context, labels ...string) (string, Point, bool, error) {
	dump, err := s.Dump(ctx)
	if err != nil {
		return "", Point{}, false, err
	}

	for _, label := range labels {
		p, ok, err := s.locator.Locate(dump, label)
		if err != nil {
			return "", Point{}, false, fmt.Errorf("uiview: locate %q: %w", label, err)
		}
		if ok {
			slog.Debug("[UI] button found", "serial", s.dev.Serial(), "label", label, "x", p.X, "y", p.Y)
			return label, p, true, nil
		}
		slog.Debug("[UI] button not found", "serial", s.dev.Serial(), "label", label)
	}
	return "", Point{}, false, nil
}

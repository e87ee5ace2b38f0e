// Command test-tap is a manual test for the view scraper and tap injection.
// It dumps the device's screen, finds a button by label and taps it.
// Bring up the dialog on the device before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-tap [--serial SERIAL] [--label OK] [--confirm] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/btp-android/internal/adb"
	"github.com/chaz8081/btp-android/internal/pairing"
	"github.com/chaz8081/btp-android/internal/uiview"
)

func main() {
	adbPath := flag.String("adb", "adb", "path to the adb executable")
	serial := flag.String("serial", "", "device serial (default: first attached device)")
	label := flag.String("label", "OK", "button text to look for")
	confirm := flag.Bool("confirm", false, "confirm a pairing dialog (OK, then PAIR) instead of --label")
	locatorKind := flag.String("locator", "xml", "dump matcher: xml or pattern")
	dryRun := flag.Bool("dry-run", false, "print the coordinate without tapping")
	wait := flag.Int("wait", 3, "seconds to wait before dumping")
	flag.Parse()

	ctx := context.Background()
	runner := adb.NewExecRunner(*adbPath, 30*time.Second)

	if *serial == "" {
		serials, err := adb.ListDevices(ctx, runner)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if len(serials) == 0 {
			fmt.Println("Error: no devices attached")
			os.Exit(1)
		}
		*serial = serials[0]
	}

	locator, err := uiview.NewLocator(*locatorKind)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	dev := adb.NewDevice(runner, *serial)
	scraper := uiview.NewScraper(dev, locator, "")

	fmt.Printf("Will dump the screen of %s in %d seconds...\n", *serial, *wait)
	for i := *wait; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	if *confirm {
		if *dryRun {
			found, p, ok, err := scraper.FindFirst(ctx, pairing.DefaultLabels...)
			if !ok {
				found = strings.Join(pairing.DefaultLabels, "/")
			}
			report(found, p, ok, err)
			return
		}
		if err := pairing.NewConfirmer(scraper, dev).Confirm(ctx); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nDone!")
		return
	}

	p, ok, err := scraper.FindButton(ctx, *label)
	report(*label, p, ok, err)
	if !ok || *dryRun {
		return
	}
	if err := dev.Tap(ctx, p.X, p.Y); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nDone!")
}

func report(label string, p uiview.Point, ok bool, err error) {
	switch {
	case err != nil:
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	case !ok:
		fmt.Printf("No %q button on screen\n", label)
	default:
		fmt.Printf("Found %q at (%d, %d)\n", label, p.X, p.Y)
	}
}

package adb

import (
	"context"
	"fmt"
	"strings"
)

// ListDevices returns the serials of attached devices in the order
// `adb devices` prints them. The order is stable within one call only.
func ListDevices(ctx context.Context, r Runner) ([]string, error) {
	out, err := r.Run(ctx, "", "devices")
	if err != nil {
		return nil, fmt.Errorf("adb: list devices: %w", err)
	}
	return ParseDeviceList(out), nil
}

// ParseDeviceList parses `adb devices` output. The first line is the
// "List of devices attached" header. Lines with fewer than two fields
// are skipped.
func ParseDeviceList(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}

	var serials []string
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		serials = append(serials, fields[0])
	}
	return serials
}

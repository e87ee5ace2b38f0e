package adb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// WirelessInterface is the interface whose address locates the BTP listener.
const WirelessInterface = "wlan0"

// Device scopes bridge commands to one device serial.
type Device struct {
	runner Runner
	serial string
}

// NewDevice returns a Device that runs every command with `-s serial`.
func NewDevice(runner Runner, serial string) *Device {
	return &Device{runner: runner, serial: serial}
}

// Serial returns the device serial.
func (d *Device) Serial() string {
	return d.serial
}

// Run executes an adb sub-command against this device.
func (d *Device) Run(ctx context.Context, args ...string) (string, error) {
	return d.runner.Run(ctx, d.serial, args...)
}

// Shell runs a command in the device shell and returns its stdout.
func (d *Device) Shell(ctx context.Context, args ...string) (string, error) {
	return d.Run(ctx, append([]string{"shell"}, args...)...)
}

// Pull copies a file from the device to the local filesystem.
func (d *Device) Pull(ctx context.Context, remote, local string) error {
	if _, err := d.Run(ctx, "pull", remote, local); err != nil {
		return fmt.Errorf("adb: pull %s: %w", remote, err)
	}
	return nil
}

// Tap injects a touch at (x, y) in screen pixels.
func (d *Device) Tap(ctx context.Context, x, y int) error {
	slog.Debug("[ADB] tap", "serial", d.serial, "x", x, "y", y)
	if _, err := d.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("adb: tap %d,%d: %w", x, y, err)
	}
	return nil
}

// IP returns the IPv4 address of the device's wireless interface, or ""
// if the interface has no address. The result is not validated further.
func (d *Device) IP(ctx context.Context) (string, error) {
	out, err := d.Shell(ctx, "ip", "addr", "show", WirelessInterface)
	if err != nil {
		return "", fmt.Errorf("adb: read %s address: %w", WirelessInterface, err)
	}
	return ParseInetAddr(out), nil
}

// ParseInetAddr extracts the address from the first "inet " line of
// `ip addr show` output, dropping the /prefix suffix.
func ParseInetAddr(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "inet" {
			continue
		}
		addr, _, _ := strings.Cut(fields[1], "/")
		return addr
	}
	return ""
}

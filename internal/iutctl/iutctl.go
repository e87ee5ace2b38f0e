// Package iutctl drives an Android handset running the BTP tester app as
// an implementation under test. A Controller owns the device identity, the
// BTP worker for the app's socket and the readiness handshake.
package iutctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/btp-android/internal/adb"
	"github.com/chaz8081/btp-android/internal/btp"
	"github.com/chaz8081/btp-android/internal/pairing"
	"github.com/chaz8081/btp-android/internal/stack"
	"github.com/chaz8081/btp-android/internal/uiview"
)

// Tester app defaults.
const (
	DefaultPackage  = "com.juul.btptesterandroid"
	DefaultActivity = DefaultPackage + ".MainActivity"
)

// ErrRunning is returned by Start when a worker is already running.
var ErrRunning = errors.New("iutctl: already running")

// State is the lifecycle state of a Controller.
type State int

const (
	Stopped State = iota
	Running
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options are the caller-supplied settings for a Controller. Zero values
// are derived: the serial from the device list, the host from the device's
// wireless address, the rest from package defaults.
type Options struct {
	Serial   string
	Host     string
	Port     int
	Package  string
	Activity string
	ViewDir  string
	// BTPPath is the WebSocket path used by the default dialer.
	BTPPath string
}

// Deps are the collaborators a Controller is built from. Only Runner is
// required.
type Deps struct {
	Runner  adb.Runner
	IDs     IDAllocator
	Dial    btp.DialFunc
	Locator uiview.Locator
}

// Controller manages one IUT. Its worker and socket are either both open
// or both absent. Safe for concurrent use.
type Controller struct {
	id     int
	serial string
	host   string
	port   int

	dev     *adb.Device
	app     *adb.App
	stack   *stack.Stack
	handler *btp.Handler
	dial    btp.DialFunc

	mu     sync.Mutex
	worker *btp.Worker
}

// New resolves the device identity and BTP endpoint and wires the pairing
// confirmer into a fresh Stack. The controller starts out Stopped.
func New(ctx context.Context, opts Options, deps Deps) (*Controller, error) {
	if deps.Runner == nil {
		return nil, errors.New("iutctl: no adb runner")
	}
	ids := deps.IDs
	if ids == nil {
		ids = defaultIDs
	}
	dial := deps.Dial
	if dial == nil {
		path := opts.BTPPath
		if path == "" {
			path = "/"
		}
		dial = btp.WebSocketDialer(path)
	}

	c := &Controller{id: ids.Next(), port: opts.Port, dial: dial}

	c.serial = opts.Serial
	if c.serial == "" {
		serials, err := adb.ListDevices(ctx, deps.Runner)
		if err != nil {
			return nil, fmt.Errorf("iutctl: %w", err)
		}
		if c.id < 0 || c.id >= len(serials) {
			return nil, fmt.Errorf("iutctl: no device at index %d (%d attached)", c.id, len(serials))
		}
		c.serial = serials[c.id]
	}
	c.dev = adb.NewDevice(deps.Runner, c.serial)

	c.host = opts.Host
	if c.host == "" {
		ip, err := c.dev.IP(ctx)
		if err != nil {
			return nil, fmt.Errorf("iutctl: resolve host for %s: %w", c.serial, err)
		}
		if ip == "" {
			slog.Warn("[IUT] device has no wireless address", "serial", c.serial, "interface", adb.WirelessInterface)
		}
		c.host = ip
	}
	if c.port == 0 {
		c.port = btp.DefaultPort
	}

	pkg, activity := opts.Package, opts.Activity
	if pkg == "" {
		pkg = DefaultPackage
	}
	if activity == "" {
		activity = DefaultActivity
	}
	c.app = adb.NewApp(c.dev, pkg, activity)

	confirmer := pairing.NewConfirmer(uiview.NewScraper(c.dev, deps.Locator, opts.ViewDir), c.dev)
	c.stack = stack.New()
	c.stack.SetPairingConsentHandler(confirmer)
	c.stack.SetPasskeyConfirmHandler(confirmer)
	c.handler = btp.NewHandler(c.stack)

	slog.Info("[IUT] controller created", "id", c.id, "serial", c.serial, "host", c.host, "port", c.port)
	return c, nil
}

// ID returns the ID allocated to this controller.
func (c *Controller) ID() int { return c.id }

// Serial returns the adb serial of the device.
func (c *Controller) Serial() string { return c.serial }

// Host returns the BTP host.
func (c *Controller) Host() string { return c.host }

// Port returns the BTP port.
func (c *Controller) Port() int { return c.port }

// Stack returns the protocol state model of this IUT.
func (c *Controller) Stack() *stack.Stack { return c.stack }

// EventHandler returns the handler registered on every worker.
func (c *Controller) EventHandler() *btp.Handler { return c.handler }

// App returns the tester app lifecycle controller.
func (c *Controller) App() *adb.App { return c.app }

// Worker returns the running worker, or nil when stopped.
func (c *Controller) Worker() *btp.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker
}

// State reports whether a worker is running.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker == nil {
		return Stopped
	}
	return Running
}

// Start opens the BTP socket and starts a worker on it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker != nil {
		return ErrRunning
	}

	sock, err := c.dial(ctx, c.host, c.port)
	if err != nil {
		return fmt.Errorf("iutctl: start %s: %w", c.serial, err)
	}
	w := btp.NewWorker(sock, fmt.Sprintf("RxWorkerAndroid-%d", c.id))
	w.RegisterEventHandler(c.handler)
	w.Accept()
	c.worker = w

	slog.Info("[IUT] started", "serial", c.serial, "worker", w.Name())
	return nil
}

// Stop closes the worker. It does nothing when already stopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.mu.Unlock()

	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		slog.Warn("[IUT] closing worker", "worker", w.Name(), "error", err)
	}
	slog.Info("[IUT] stopped", "serial", c.serial)
}

// Reset restarts the worker and then opens the Bluetooth settings screen
// so pairing prompts show up as dialogs the confirmer can tap.
func (c *Controller) Reset(ctx context.Context) error {
	c.Stop()
	c.stack.Cleanup()
	if err := c.Start(ctx); err != nil {
		return err
	}
	if err := c.app.OpenBluetoothSettings(ctx); err != nil {
		return fmt.Errorf("iutctl: reset %s: %w", c.serial, err)
	}
	return nil
}

// WaitReady resets the controller and waits for the first frame from the
// IUT. If that frame is not the core IUT-ready event the controller is
// stopped and nil is returned; callers check State to tell the outcomes
// apart. Errors are returned only when the reset or the read fails.
func (c *Controller) WaitReady(ctx context.Context) error {
	if err := c.Reset(ctx); err != nil {
		return err
	}
	w := c.Worker()
	if w == nil {
		return fmt.Errorf("iutctl: %s stopped during reset", c.serial)
	}

	f, err := w.Read(ctx)
	if err != nil {
		c.Stop()
		return fmt.Errorf("iutctl: wait ready %s: %w", c.serial, err)
	}
	if f.Service != btp.ServiceCore || f.Opcode != btp.CoreEvIUTReady {
		slog.Error("[IUT] unexpected first frame", "serial", c.serial, "header", f.Header.String())
		c.Stop()
		return nil
	}
	slog.Info("[IUT] ready", "serial", c.serial)
	return nil
}

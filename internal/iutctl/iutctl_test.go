package iutctl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chaz8081/btp-android/internal/adb"
	"github.com/chaz8081/btp-android/internal/adb/adbtest"
	"github.com/chaz8081/btp-android/internal/btp"
	"github.com/chaz8081/btp-android/internal/btp/btptest"
	"github.com/chaz8081/btp-android/internal/uiview"
)

const deviceList = "List of devices attached\nABC123\tdevice\nDEF456\tdevice"

const wlan0 = `3: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc mq state UP group default qlen 3000
    link/ether 02:00:00:00:00:00 brd ff:ff:ff:ff:ff:ff
    inet 192.168.1.42/24 brd 192.168.1.255 scope global wlan0
       valid_lft forever preferred_lft forever`

const okDialog = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0">` +
	`<node index="0" text="" class="android.widget.FrameLayout" bounds="[0,0][1080,2280]">` +
	`<node index="0" text="Cancel" class="android.widget.Button" bounds="[593,1387][802,1519]" />` +
	`<node index="1" text="OK" class="android.widget.Button" bounds="[802,1387][1003,1519]" />` +
	`</node></hierarchy>`

func newFakeADB() *adbtest.Runner {
	r := adbtest.NewRunner()
	r.OnOutput("devices", deviceList)
	r.OnOutput("shell ip addr show wlan0", wlan0)
	r.OnOutput("shell uiautomator dump", "UI hierchary dumped to: /sdcard/window_dump.xml")
	r.OnPull(okDialog)
	return r
}

func newTestController(t *testing.T, r *adbtest.Runner, d *btptest.Dialer, opts Options) *Controller {
	t.Helper()
	if opts.ViewDir == "" {
		opts.ViewDir = t.TempDir()
	}
	c, err := New(context.Background(), opts, Deps{
		Runner:  r,
		IDs:     NewCounter(),
		Dial:    d.Dial,
		Locator: uiview.XMLLocator{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func readyFrame() btp.Frame {
	return btp.NewFrame(btp.ServiceCore, btp.CoreEvIUTReady, btp.IndexNone, nil)
}

func TestNewResolvesSerialFromDeviceList(t *testing.T) {
	c := newTestController(t, newFakeADB(), &btptest.Dialer{}, Options{})

	if c.Serial() != "ABC123" {
		t.Errorf("Serial() = %q, want %q", c.Serial(), "ABC123")
	}
	if c.Host() != "192.168.1.42" {
		t.Errorf("Host() = %q, want %q", c.Host(), "192.168.1.42")
	}
	if c.Port() != btp.DefaultPort {
		t.Errorf("Port() = %d, want %d", c.Port(), btp.DefaultPort)
	}
	if c.State() != Stopped {
		t.Errorf("State() = %s, want stopped", c.State())
	}
	if c.Worker() != nil {
		t.Error("Worker() != nil before Start")
	}
}

func TestNewExplicitOptions(t *testing.T) {
	r := newFakeADB()
	c := newTestController(t, r, &btptest.Dialer{}, Options{Serial: "XYZ", Host: "10.0.0.5", Port: 9000})

	if c.Serial() != "XYZ" || c.Host() != "10.0.0.5" || c.Port() != 9000 {
		t.Errorf("endpoint = %s %s:%d, want XYZ 10.0.0.5:9000", c.Serial(), c.Host(), c.Port())
	}
	if calls := r.Calls(); len(calls) != 0 {
		t.Errorf("adb called %d times with explicit options, want 0", len(calls))
	}
}

func TestNewUsesAllocatedID(t *testing.T) {
	r := newFakeADB()
	c, err := New(context.Background(), Options{ViewDir: t.TempDir()}, Deps{Runner: r, IDs: Fixed(1), Dial: (&btptest.Dialer{}).Dial})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.ID() != 1 || c.Serial() != "DEF456" {
		t.Errorf("ID, Serial = %d, %q; want 1, DEF456", c.ID(), c.Serial())
	}
	ipCalls := r.CallsWithPrefix("shell ip addr")
	if len(ipCalls) != 1 || ipCalls[0].Serial != "DEF456" {
		t.Errorf("ip lookup calls = %v, want one against DEF456", ipCalls)
	}
}

func TestNewIndexOutOfRange(t *testing.T) {
	_, err := New(context.Background(), Options{}, Deps{Runner: newFakeADB(), IDs: Fixed(2)})
	if err == nil || !strings.Contains(err.Error(), "no device at index 2") {
		t.Errorf("New() error = %v, want no device at index 2", err)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(context.Background(), Options{}, Deps{}); err == nil {
		t.Error("New() without runner error = nil")
	}

	r := newFakeADB()
	r.OnError("devices", &adb.CommandFailedError{Args: []string{"devices"}, ExitCode: 1})
	if _, err := New(context.Background(), Options{}, Deps{Runner: r, IDs: NewCounter()}); err == nil {
		t.Error("New() with failing device list error = nil")
	}

	r = newFakeADB()
	r.OnError("shell ip addr show wlan0", &adb.CommandFailedError{Args: []string{"shell"}, ExitCode: 1})
	_, err := New(context.Background(), Options{}, Deps{Runner: r, IDs: NewCounter()})
	var cfe *adb.CommandFailedError
	if !errors.As(err, &cfe) {
		t.Errorf("New() with failing ip lookup error = %v, want *CommandFailedError", err)
	}
}

func TestNewWithoutWirelessAddress(t *testing.T) {
	r := newFakeADB()
	r.OnOutput("shell ip addr show wlan0", "3: wlan0: <NO-CARRIER> mtu 1500 state DOWN")

	c := newTestController(t, r, &btptest.Dialer{}, Options{})
	if c.Host() != "" {
		t.Errorf("Host() = %q, want empty", c.Host())
	}
}

func TestStartStop(t *testing.T) {
	d := &btptest.Dialer{}
	c := newTestController(t, newFakeADB(), d, Options{})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.State() != Running {
		t.Errorf("State() = %s, want running", c.State())
	}
	if got := c.Worker().Name(); got != "RxWorkerAndroid-0" {
		t.Errorf("worker name = %q, want RxWorkerAndroid-0", got)
	}
	if diff := cmp.Diff([]string{"192.168.1.42:8765"}, d.Addrs()); diff != "" {
		t.Errorf("dialed addresses mismatch (-want +got):\n%s", diff)
	}

	if err := c.Start(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}
	if len(d.Sockets()) != 1 {
		t.Errorf("dialed %d sockets, want 1", len(d.Sockets()))
	}

	c.Stop()
	if c.State() != Stopped || c.Worker() != nil {
		t.Errorf("after Stop: state %s, worker %v", c.State(), c.Worker())
	}
	c.Stop()
	if c.State() != Stopped || c.Worker() != nil {
		t.Errorf("after second Stop: state %s, worker %v", c.State(), c.Worker())
	}
	if got := d.Sockets()[0].Closes(); got != 1 {
		t.Errorf("socket closed %d times, want 1", got)
	}
}

func TestStartDialFailure(t *testing.T) {
	d := &btptest.Dialer{Err: errors.New("connection refused")}
	c := newTestController(t, newFakeADB(), d, Options{})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil")
	}
	if c.State() != Stopped {
		t.Errorf("State() = %s, want stopped", c.State())
	}
}

func TestReset(t *testing.T) {
	r := newFakeADB()
	d := &btptest.Dialer{}
	c := newTestController(t, r, d, Options{})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if c.State() != Running {
		t.Errorf("State() = %s, want running", c.State())
	}

	socks := d.Sockets()
	if len(socks) != 2 {
		t.Fatalf("dialed %d sockets, want 2", len(socks))
	}
	if socks[0].Closes() != 1 || socks[1].Closes() != 0 {
		t.Errorf("socket closes = %d, %d; want 1, 0", socks[0].Closes(), socks[1].Closes())
	}

	settings := r.CallsWithPrefix("shell am start -a android.settings.BLUETOOTH_SETTINGS")
	if len(settings) != 1 || settings[0].Serial != "ABC123" {
		t.Errorf("settings calls = %v, want one against ABC123", settings)
	}
}

func TestResetStartFailureLeavesStopped(t *testing.T) {
	r := newFakeADB()
	d := &btptest.Dialer{}
	c := newTestController(t, r, d, Options{})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Err = errors.New("connection refused")

	if err := c.Reset(ctx); err == nil {
		t.Fatal("Reset() error = nil")
	}
	if c.State() != Stopped {
		t.Errorf("State() = %s, want stopped", c.State())
	}
	if len(r.CallsWithPrefix("shell am start -a")) != 0 {
		t.Error("Bluetooth settings opened after failed start")
	}
}

func TestWaitReady(t *testing.T) {
	d := &btptest.Dialer{OnDial: func(s *btptest.Socket) { s.Push(readyFrame()) }}
	c := newTestController(t, newFakeADB(), d, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if c.State() != Running {
		t.Errorf("State() = %s, want running", c.State())
	}
	if got := d.Sockets()[0].Closes(); got != 0 {
		t.Errorf("socket closed %d times, want 0", got)
	}
}

func TestWaitReadyUnexpectedFrame(t *testing.T) {
	d := &btptest.Dialer{OnDial: func(s *btptest.Socket) {
		s.Push(btp.NewFrame(btp.ServiceGAP, btp.OpStatus, 0, nil))
	}}
	c := newTestController(t, newFakeADB(), d, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v, want nil", err)
	}
	if c.State() != Stopped || c.Worker() != nil {
		t.Errorf("after unexpected frame: state %s, worker %v", c.State(), c.Worker())
	}
	if got := d.Sockets()[0].Closes(); got != 1 {
		t.Errorf("socket closed %d times, want 1", got)
	}
}

func TestWaitReadyReadFailure(t *testing.T) {
	d := &btptest.Dialer{OnDial: func(s *btptest.Socket) { s.Close() }}
	c := newTestController(t, newFakeADB(), d, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err == nil {
		t.Fatal("WaitReady() error = nil")
	}
	if c.State() != Stopped {
		t.Errorf("State() = %s, want stopped", c.State())
	}
}

func TestWaitReadyContextDone(t *testing.T) {
	c := newTestController(t, newFakeADB(), &btptest.Dialer{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() error = %v, want DeadlineExceeded", err)
	}
	if c.State() != Stopped {
		t.Errorf("State() = %s, want stopped", c.State())
	}
}

func TestPairingEventTapsConfirmation(t *testing.T) {
	r := newFakeADB()
	consent := btp.NewFrame(btp.ServiceGAP, btp.GAPEvPairingConsentReq, 0,
		[]byte{0x00, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11})
	d := &btptest.Dialer{OnDial: func(s *btptest.Socket) {
		s.Push(readyFrame())
		s.Push(consent)
	}}
	c := newTestController(t, r, d, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(r.CallsWithPrefix("shell input tap")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no tap issued for pairing consent")
		}
		time.Sleep(10 * time.Millisecond)
	}
	taps := r.CallsWithPrefix("shell input tap")
	if taps[0].Line() != "shell input tap 902 1453" || taps[0].Serial != "ABC123" {
		t.Errorf("tap = %s on %s, want shell input tap 902 1453 on ABC123", taps[0].Line(), taps[0].Serial)
	}
	if _, ok := c.Stack().LastPeer(); !ok {
		t.Error("Stack().LastPeer() not recorded")
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	for want := 0; want < 3; want++ {
		if got := c.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter()
	const n = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("got %d distinct IDs, want %d", len(seen), n)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			t.Errorf("ID %d never allocated", i)
		}
	}
}

func TestControllersShareAllocator(t *testing.T) {
	r := newFakeADB()
	ids := NewCounter()
	dir := t.TempDir()

	var serials []string
	for i := 0; i < 2; i++ {
		c, err := New(context.Background(), Options{ViewDir: dir}, Deps{Runner: r, IDs: ids, Dial: (&btptest.Dialer{}).Dial})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		serials = append(serials, c.Serial())
	}
	if diff := cmp.Diff([]string{"ABC123", "DEF456"}, serials); diff != "" {
		t.Errorf("serials mismatch (-want +got):\n%s", diff)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Stopped, "stopped"},
		{Running, "running"},
		{State(7), "State(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

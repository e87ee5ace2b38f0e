package adb

import (
	"context"
	"fmt"
)

const bluetoothSettingsAction = "android.settings.BLUETOOTH_SETTINGS"

// App controls the lifecycle of the on-device BTP tester application.
// It holds no state beyond the names it was created with.
type App struct {
	dev      *Device
	pkg      string
	activity string
}

// NewApp returns an App for the given package and fully qualified activity.
func NewApp(dev *Device, pkg, activity string) *App {
	return &App{dev: dev, pkg: pkg, activity: activity}
}

// Stop force-stops the application.
func (a *App) Stop(ctx context.Context) error {
	if _, err := a.dev.Shell(ctx, "am", "force-stop", a.pkg); err != nil {
		return fmt.Errorf("adb: stop %s: %w", a.pkg, err)
	}
	return nil
}

// Start launches the application's main activity.
func (a *App) Start(ctx context.Context) error {
	component := a.pkg + "/" + a.activity
	if _, err := a.dev.Shell(ctx, "am", "start", "-n", component); err != nil {
		return fmt.Errorf("adb: start %s: %w", component, err)
	}
	return nil
}

// Restart force-stops and relaunches the application, clearing its in-memory state.
func (a *App) Restart(ctx context.Context) error {
	if err := a.Stop(ctx); err != nil {
		return err
	}
	return a.Start(ctx)
}

// OpenBluetoothSettings brings the system Bluetooth settings screen to the
// front. While it is showing, newer Android versions present pairing
// requests as a dialog instead of a notification.
func (a *App) OpenBluetoothSettings(ctx context.Context) error {
	if _, err := a.dev.Shell(ctx, "am", "start", "-a", bluetoothSettingsAction); err != nil {
		return fmt.Errorf("adb: open bluetooth settings: %w", err)
	}
	return nil
}

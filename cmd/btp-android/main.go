// Command btp-android brings up Android handsets running the BTP tester app
// as IUTs and keeps them connected until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/btp-android/internal/adb"
	"github.com/chaz8081/btp-android/internal/config"
	"github.com/chaz8081/btp-android/internal/iutctl"
	"github.com/chaz8081/btp-android/internal/uiview"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/btp-android/config.yaml)")
	serial := flag.String("serial", "", "adb serial of the IUT (default: picked by position in 'adb devices')")
	host := flag.String("host", "", "BTP host (default: the device's wlan0 address)")
	port := flag.Int("port", 0, "BTP port (default: btp.port from config)")
	count := flag.Int("n", 1, "number of IUTs to bring up when no devices are configured")
	list := flag.Bool("list", false, "list attached devices and exit")
	launch := flag.Bool("launch", false, "restart the tester app before waiting for it")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("init config", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := adb.NewExecRunner(cfg.ADBPath, cfg.CommandTimeout)

	if *list {
		serials, err := adb.ListDevices(ctx, runner)
		if err != nil {
			fatal("list devices", err)
		}
		for i, s := range serials {
			fmt.Printf("%d\t%s\n", i, s)
		}
		return
	}

	printBanner(cfg)

	locator, err := uiview.NewLocator(cfg.Locator)
	if err != nil {
		fatal("locator", err)
	}

	targets := pickTargets(cfg, *serial, *host, *port, *count)
	ids := iutctl.NewCounter()

	// Controllers are built one at a time so IDs follow target order.
	ctls := make([]*iutctl.Controller, 0, len(targets))
	for _, t := range targets {
		c, err := iutctl.New(ctx, iutctl.Options{
			Serial:   t.Serial,
			Host:     t.Host,
			Port:     t.Port,
			Package:  cfg.App.Package,
			Activity: cfg.App.Activity,
			ViewDir:  cfg.ViewDir,
			BTPPath:  cfg.BTP.Path,
		}, iutctl.Deps{Runner: runner, IDs: ids, Locator: locator})
		if err != nil {
			stopAll(ctls)
			fatal("create IUT", err)
		}
		ctls = append(ctls, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range ctls {
		c := c
		g.Go(func() error {
			return bringUp(gctx, c, *launch, cfg.ReadyTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		stopAll(ctls)
		fatal("bring up", err)
	}

	slog.Info("All IUTs ready. Ctrl+C to quit.", "count", len(ctls))
	<-ctx.Done()

	slog.Info("Shutting down...")
	stopAll(ctls)
	slog.Info("Goodbye!")
}

// bringUp optionally relaunches the tester app and then waits for the IUT
// to report ready.
func bringUp(ctx context.Context, c *iutctl.Controller, launch bool, timeout time.Duration) error {
	if launch {
		if err := c.App().Restart(ctx); err != nil {
			return err
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	if c.State() != iutctl.Running {
		return fmt.Errorf("%s did not report ready", c.Serial())
	}
	slog.Info("IUT ready", "serial", c.Serial(), "host", c.Host(), "port", c.Port(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// pickTargets decides which IUTs to bring up. Command-line endpoint flags
// select a single IUT; otherwise configured devices are used, and failing
// that the first n attached devices.
func pickTargets(cfg *config.Config, serial, host string, port, n int) []config.DeviceConfig {
	if serial != "" || host != "" || port != 0 {
		return []config.DeviceConfig{{Serial: serial, Host: host, Port: portOr(port, cfg.BTP.Port)}}
	}
	if len(cfg.Devices) > 0 {
		targets := make([]config.DeviceConfig, len(cfg.Devices))
		for i, d := range cfg.Devices {
			d.Port = portOr(d.Port, cfg.BTP.Port)
			targets[i] = d
		}
		return targets
	}
	if n < 1 {
		n = 1
	}
	targets := make([]config.DeviceConfig, n)
	for i := range targets {
		targets[i].Port = cfg.BTP.Port
	}
	return targets
}

func portOr(port, fallback int) int {
	if port != 0 {
		return port
	}
	return fallback
}

func stopAll(ctls []*iutctl.Controller) {
	for _, c := range ctls {
		c.Stop()
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== btp-android ===")
	fmt.Printf("  ADB:     %s (timeout %s)\n", cfg.ADBPath, cfg.CommandTimeout)
	fmt.Printf("  App:     %s\n", cfg.App.Activity)
	fmt.Printf("  BTP:     port %d, path %s\n", cfg.BTP.Port, cfg.BTP.Path)
	fmt.Printf("  Views:   %s (%s locator)\n", cfg.ViewDir, cfg.Locator)
	fmt.Printf("  Devices: %d configured\n", len(cfg.Devices))
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("===================")
}

func fatal(what string, err error) {
	msg := fmt.Sprintf("%s: %v", what, err)
	if errors.Is(err, adb.ErrNotFound) {
		msg += "\n\nInstall the Android platform tools or set adb_path in the config file."
	}
	slog.Error(msg)
	os.Exit(1)
}

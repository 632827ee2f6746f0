package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danwillm/openvr-haptics-tester/blemanager"
	"github.com/danwillm/openvr-haptics-tester/command"
	"github.com/danwillm/openvr-haptics-tester/config"
	"github.com/danwillm/openvr-haptics-tester/devicestore"
	"github.com/danwillm/openvr-haptics-tester/haptics"
	"github.com/danwillm/openvr-haptics-tester/oscmanager"
	"github.com/danwillm/openvr-haptics-tester/session"
	"github.com/danwillm/openvr-haptics-tester/telemetry"
	"github.com/danwillm/openvr-haptics-tester/vr"
	"gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "openvr-haptics-tester"

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// run drives one session and returns the process exit code.
func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) int {
	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTel.Endpoint, cfg.OTel.Enabled)
	if err != nil {
		logger.Printf("tracing disabled: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Printf("tracing shutdown: %v", err)
		}
	}()

	rt, err := openRuntime(ctx, cfg, out, logger)
	if err != nil {
		var initErr *vr.InitError
		if errors.As(err, &initErr) {
			fmt.Fprintf(out, "failed to init openvr! %s\n", initErr.Error())
		} else {
			fmt.Fprintf(out, "failed to init openvr! %v\n", err)
		}
		return 1
	}
	defer func() {
		if err := rt.Shutdown(); err != nil {
			logger.Printf("runtime shutdown: %v", err)
		}
	}()

	opts, err := sessionOptions(cfg, rt, out, logger)
	if err != nil {
		fmt.Fprintln(out, err)
		return 1
	}

	if err := session.New(opts, out).Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("session ended: %v", err)
	}
	return 0
}

// newLogger writes diagnostics to a rotating file when one is configured and
// to stderr otherwise.
func newLogger(lc config.LogConfig) (*log.Logger, func()) {
	if lc.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	}
	return log.New(lj, "", log.LstdFlags|log.Lmicroseconds), func() { lj.Close() }
}

func openRuntime(ctx context.Context, cfg *config.Config, out io.Writer, logger *log.Logger) (vr.Runtime, error) {
	switch cfg.Runtime {
	case "sim":
		var echo io.Writer
		if cfg.Log.Verbose {
			echo = out
		}
		return vr.NewSim(echo), nil
	case "osc":
		o, err := oscmanager.New(cfg.OSC.Addr, cfg.OSC.Listen, cfg.OSC.Prefix, logger)
		if err != nil {
			return nil, err
		}
		if err := o.Start(); err != nil {
			return nil, err
		}
		return o, nil
	case "ble":
		return openBLE(ctx, cfg, logger)
	}
	return nil, vr.NewInitError(vr.InitErrorInvalidConfig, fmt.Errorf("unknown runtime %q", cfg.Runtime))
}

func openBLE(ctx context.Context, cfg *config.Config, logger *log.Logger) (vr.Runtime, error) {
	if err := blemanager.Enable(); err != nil {
		return nil, vr.NewInitError(vr.InitErrorInitInternal, fmt.Errorf("enable bluetooth: %w", err))
	}

	store := devicestore.New()
	bindings := []struct {
		addr    string
		role    vr.ControllerRole
		enabled bool
	}{
		{cfg.BLE.Left, vr.RoleLeftHand, cfg.BLE.LeftEnabled},
		{cfg.BLE.Right, vr.RoleRightHand, cfg.BLE.RightEnabled},
	}
	for _, b := range bindings {
		if b.addr == "" {
			continue
		}
		if err := store.Add(devicestore.Device{Addr: b.addr, Role: b.role, Enabled: b.enabled}); err != nil {
			return nil, vr.NewInitError(vr.InitErrorInvalidConfig, err)
		}
	}

	rm := devicestore.NewRuntimeManager(func() devicestore.Link {
		return blemanager.New(blemanager.Options{
			Service:        cfg.BLE.Service,
			Characteristic: cfg.BLE.Characteristic,
			SendTimeout:    cfg.BLE.SendTimeout,
			Logger:         logger,
		})
	}, devicestore.Options{
		ReconnectDelay:    cfg.BLE.ReconnectDelay,
		HeartbeatInterval: cfg.BLE.HeartbeatInterval,
		Logger:            logger,
		OnStatus: func(dev devicestore.Device, status string) {
			logger.Printf("%s (%s hand): %s", dev.Name, dev.Role, status)
		},
	})
	mctx, cancel := context.WithCancel(ctx)
	rm.Run(mctx, store)

	sources := map[string]vr.ControllerRole{
		cfg.Actions.LeftSource:  vr.RoleLeftHand,
		cfg.Actions.RightSource: vr.RoleRightHand,
	}
	return devicestore.NewRuntime(store, sources, func() {
		cancel()
		rm.Wait()
	}, logger), nil
}

func sessionOptions(cfg *config.Config, rt vr.Runtime, out io.Writer, logger *log.Logger) (session.Options, error) {
	variant, err := command.ParseVariant(cfg.Mode)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{Variant: variant, Logger: logger}

	switch variant {
	case command.VariantAction:
		manifest, err := manifestPath(cfg.Manifest)
		if err != nil {
			return session.Options{}, err
		}
		if rc := rt.Input().SetActionManifestPath(manifest); rc != vr.InputErrorNone {
			fmt.Fprintf(out, "action manifest error %d\n", int(rc))
		}

		d, err := haptics.NewActionDispatcher(rt.Input(), haptics.Bindings{
			ActionSet:   cfg.Actions.ActionSet,
			Action:      cfg.Actions.Vibration,
			LeftSource:  cfg.Actions.LeftSource,
			RightSource: cfg.Actions.RightSource,
		})
		if err != nil {
			logger.Printf("action bindings: %v", err)
		}
		opts.Vibrator = d
	case command.VariantPulse:
		opts.Firer = haptics.NewPulseDispatcher(rt.System(), cfg.Pulse.Axis)
		opts.Defaults = session.RepeatConfig{
			DurationMicros: cfg.Pulse.DurationMicros,
			IntervalMillis: cfg.Pulse.IntervalMillis,
		}
	}
	return opts, nil
}

// manifestPath resolves name against the working directory.
func manifestPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve manifest path: %w", err)
	}
	return filepath.Join(wd, name), nil
}

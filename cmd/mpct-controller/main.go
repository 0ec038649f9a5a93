package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mpct-controller/internal/controller"
	"mpct-controller/internal/driver"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/logging"
	"mpct-controller/internal/loop"
	"mpct-controller/internal/metrics"
	"mpct-controller/internal/mqtt"
	"mpct-controller/internal/store"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var cfgPath, statePath string
	code := 0

	root := &cobra.Command{
		Use:           "mpct-controller",
		Short:         "Expose locally attached sensors and actuators over MQTT",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			code, err = run(cfgPath, statePath)
			return err
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML configuration")
	root.Flags().StringVar(&statePath, "state", "", "path to the persisted device list (overrides state.path)")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mpct-controller:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// run starts the controller and blocks until it shut down. The returned
// code is the process exit status.
func run(cfgPath, statePath string) (int, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return 1, err
	}
	if statePath != "" {
		cfg.State.Path = statePath
	}
	if err := cfg.validate(); err != nil {
		return 1, fmt.Errorf("invalid config: %w", err)
	}

	logger, errlog := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		ErrorLog:   cfg.Log.ErrorLog,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, os.Stdout)
	defer errlog.Close()
	slog.SetDefault(logger)
	logger.Info("mpct-controller starting", "version", version, "controller_id", cfg.Controller.ControllerID, logging.ErrLogKey, true)

	st := store.NewFileStore(cfg.State.Path)
	devs, err := controller.LoadDevices(st, cfg.Devices, logger)
	if err != nil {
		logger.Error("load devices", "err", err)
		return 1, nil
	}

	m := metrics.New()
	l := loop.New(loop.SystemClock{}, logger)

	var ctrl *controller.Controller
	bridge := mqtt.NewBridge(mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientID:       mqtt.ClientID(cfg.Controller.ControllerID),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}, func() { ctrl.OnConnect() }, logger)

	hardware := driver.Hardware{
		GPIO:        hw.NewChip(cfg.Hardware.GPIOChip),
		OneWire:     &hw.SysfsOneWire{Root: cfg.Hardware.W1Root},
		Scripts:     hw.ExecRunner{},
		Serial:      hw.SerialPorts{},
		PJLink:      func(addr, password string) hw.PJLink { return hw.NewPJLinkClient(addr, password) },
		HTTP:        &http.Client{Timeout: cfg.Hardware.Timeout},
		DHT22Script: cfg.Hardware.DHT22Script,
		Timeout:     cfg.Hardware.Timeout,
	}

	rec := cfg.Controller
	ctrl, err = controller.New(controller.Options{
		Record:          &rec,
		Devices:         devs,
		Store:           st,
		Bus:             bridge,
		Loop:            l,
		Hardware:        hardware,
		System:          hw.Host{},
		LocalIP:         hw.LocalIPv4,
		Metrics:         m,
		Logger:          logger,
		ShutdownPoll:    cfg.Shutdown.Poll,
		ShutdownMaxWait: cfg.Shutdown.MaxWait,
	})
	if err != nil {
		logger.Error("create controller", "err", err)
		return 1, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.Run(gctx) })
	l.Post(ctrl.Start)

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := bridge.Connect(); err != nil {
		logger.Error("mqtt connect", "err", err)
	}

	code := 1
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown requested", "signal", sig)
		case <-gctx.Done():
			return nil
		}
		l.Post(func() {
			ctrl.Shutdown(func(res controller.ShutdownResult) {
				code = res.ExitCode()
				cancel()
			})
		})
		select {
		case sig := <-sigCh:
			logger.Error("second signal, exiting without draining", "signal", sig)
			os.Exit(1)
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	bridge.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("controller stopped", "err", err)
		return 1, nil
	}
	logger.Info("goodbye", "exit_code", code)
	return code, nil
}

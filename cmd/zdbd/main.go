// Command zdbd is the daemon entrypoint: it loads a YAML configuration,
// opens the engine, exposes a debug HTTP listener (health + Prometheus
// metrics), and waits for a termination signal to fsync and exit. The RESP
// wire protocol, command dispatch, and authentication are external
// collaborators; this binary wires CommandHandler as the seam a separate
// front-end would implement against.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zdbio/zdb/configuration"
	"github.com/zdbio/zdb/engine"
	"github.com/zdbio/zdb/health"
	"github.com/zdbio/zdb/internal/dcontext"
	"github.com/zdbio/zdb/version"
)

// CommandHandler is the seam a RESP (or other wire-protocol) front-end
// implements to dispatch a client operation against a namespace. zdbd does
// not implement it; it only proves the engine can be driven through it.
type CommandHandler interface {
	Dispatch(ns *engine.Namespace, op string, args [][]byte) engine.Reply
}

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "zdbd [config]",
		Short: "zdb storage daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				configPath = args[0]
			}
			return run()
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	// flag names normalize dashes to underscores, so a dash-separated and an
	// underscore-separated spelling of a flag name select the same flag.
	root.Flags().SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})

	var showVersion bool
	root.Flags().BoolVar(&showVersion, "version", false, "print the version and exit")
	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		if showVersion {
			version.PrintVersion()
			os.Exit(0)
		}
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config, err := resolveConfiguration()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := configureLogging(config)

	mode, err := engine.ParseMode(config.Storage.Mode)
	if err != nil {
		return err
	}

	e, err := engine.Open(engine.Settings{
		Datapath:  config.Storage.Datapath,
		Indexpath: config.Storage.Indexpath,
		Mode:      mode,
		Sync:      config.Storage.Sync,
		SyncTime:  time.Duration(config.Storage.SyncTime) * time.Second,
		DataSize:  config.Storage.DataSize,
		MaxSize:   config.Storage.MaxSize,
		Hook:      config.Hook,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer e.Close()

	registerHealthChecks(e)

	if config.Listen.Addr != "" {
		configureDebugServer(config.Listen.Addr, logger)
	}

	waitForSignal(e, logger)
	return nil
}

func resolveConfiguration() (*configuration.Configuration, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("ZDBD_CONFIGURATION_PATH")
	}
	if path == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

func configureLogging(config *configuration.Configuration) *logrus.Entry {
	level, err := logrus.ParseLevel(string(config.Log.Level))
	if err == nil {
		logrus.SetLevel(level)
	}
	switch config.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	}
	logrus.SetReportCaller(config.Log.ReportCaller)

	entry := logrus.WithFields(logrus.Fields{})
	for k, v := range config.Log.Fields {
		entry = entry.WithField(k, v)
	}
	dcontext.SetDefaultLogger(entry)
	return entry
}

// registerHealthChecks registers one checker per loaded namespace that
// reports unhealthy once the loader has marked it DEGRADED, following
// spec.md §7's propagation policy.
func registerHealthChecks(e *engine.Engine) {
	for _, ns := range e.Namespaces() {
		ns := ns
		health.Register(ns.Name, health.CheckFunc(func(context.Context) error {
			if ns.Degraded {
				return fmt.Errorf("namespace %s: degraded during load", ns.Name)
			}
			return nil
		}))
	}
}

func configureDebugServer(addr string, logger *logrus.Entry) {
	http.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Infof("debug server listening on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.WithError(err).Fatal("debug server failed")
		}
	}()
}

// waitForSignal blocks until SIGINT, SIGTERM, or a crash-equivalent signal
// arrives, fsyncing every namespace before the process exits (spec.md §7).
// The context handed to Emergency is canceled by the very signal that wakes
// this function, so Emergency must detach it before using it to fire the
// crash hook.
func waitForSignal(e *engine.Engine, logger *logrus.Entry) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV)
	defer stop()
	<-ctx.Done()
	logger.Info("received shutdown signal, flushing and exiting")
	e.Emergency(ctx)
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kornnellio/procd/internal/bus"
	"github.com/kornnellio/procd/internal/config"
	"github.com/kornnellio/procd/internal/deputy"
)

func main() {
	var (
		verbose    bool
		name       string
		logPath    string
		busURL     string
		configPath string
	)

	root := &cobra.Command{
		Use:           "procd",
		Short:         "procd: distributed process-management deputy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(name, logPath, busURL, configPath, verbose)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "raise per-order decision logging from debug to info")
	root.Flags().StringVarP(&name, "name", "n", "", "hostname this deputy answers to (default: OS hostname)")
	root.Flags().StringVarP(&logPath, "log", "l", "", "append logs to PATH instead of stderr")
	root.Flags().StringVarP(&busURL, "bus", "u", "", "orders/telemetry transport: \"local\" or \"udp://host:port\" (default: local)")
	root.Flags().StringVarP(&configPath, "config", "c", "", "TOML file seeding the initial command table")

	// spec.md §6: -h/--help prints usage and exits 1, matching the
	// original's usage() behavior. Cobra's default help path prints
	// usage and returns nil, so it has to be wrapped to exit non-zero.
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		defaultHelp(cmd, args)
		os.Exit(1)
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(name, logPath, busURL, configPath string, verbose bool) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}
	entry := log.WithField("component", "deputy")

	hostname := name
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("determine hostname: %w", err)
		}
		hostname = h
	}

	b, err := openBus(busURL, entry)
	if err != nil {
		return err
	}
	defer b.Close()

	d := deputy.New(hostname, b, entry, verbose)

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := d.Seed(file); err != nil {
			return fmt.Errorf("seed config: %w", err)
		}
	}

	entry.WithFields(logrus.Fields{"pid": os.Getpid(), "host": hostname}).Info("deputy starting")
	return d.Run()
}

func openBus(url string, log *logrus.Entry) (bus.Bus, error) {
	switch {
	case url == "" || url == "local":
		return bus.NewLocal(64), nil
	default:
		return bus.NewUDP(strings.TrimPrefix(url, "udp://"), log)
	}
}

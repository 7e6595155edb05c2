// Package cmd implements the realitycam CLI commands.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/internal/config"
	"github.com/LucaDeLeo/realitycam-sub004/internal/version"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// annotationNoStore marks commands that run without opening the database.
const annotationNoStore = "realitycam/no-store"

var (
	// Global flags
	outputFormat string
	configPath   string
	dbPath       string
	logLevel     string

	// Set up by the root command before any subcommand runs
	cfg       *config.Config
	logger    *slog.Logger
	dataStore *store.Store
	emitter   audit.EventEmitter
	closers   []io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "realitycam",
	Short: "Evidence and trust scoring for camera captures",
	Long: `realitycam verifies capture submissions from attested devices and
produces signed, graduated confidence assessments.

It registers devices against their hardware attestation, runs submissions
through the evidence pipeline, and verifies the manifests it signs.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == "help" {
			return nil
		}
		switch outputFormat {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if dbPath != "" {
			cfg.Store.Path = dbPath
		}

		logger, err = newLogger(cmd.ErrOrStderr(), logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if skipsStore(cmd) {
			emitter = audit.NewLogEmitter(logger)
			return nil
		}
		dataStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		emitter = newEmitter()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to realitycam.yaml (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides store.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

// Execute runs the root command and reports any error on stderr in the
// selected output format.
func Execute() error {
	defer closeAll()
	err := rootCmd.Execute()
	if err != nil {
		clierror.PrintError(rootCmd.ErrOrStderr(), clierror.From(err), outputFormat)
	}
	return err
}

func skipsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationNoStore]; ok {
			return true
		}
	}
	return false
}

func noStore() map[string]string {
	return map[string]string{annotationNoStore: "true"}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// newEmitter fans audit events out to the log, the database and, when
// configured, syslog. A syslog socket that cannot be reached is logged and
// skipped.
func newEmitter() audit.EventEmitter {
	backends := []audit.EventEmitter{audit.NewLogEmitter(logger)}
	if cfg.Audit.Store {
		backends = append(backends, audit.NewStoreEmitter(dataStore))
	}
	if cfg.Audit.Syslog {
		facility, _ := audit.ParseFacility(cfg.Audit.Facility)
		w, err := audit.NewSyslogEmitter(audit.SyslogConfig{
			SocketPath: cfg.Audit.SyslogSocket,
			Facility:   facility,
		})
		if err != nil {
			logger.Warn("syslog audit disabled", "error", err)
		} else {
			backends = append(backends, w)
			closers = append(closers, w)
		}
	}
	return audit.NewMultiEmitter(logger, backends...)
}

func closeAll() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && logger != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	closers = nil
	if dataStore != nil {
		dataStore.Close()
		dataStore = nil
	}
}

func readFile(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	return data, nil
}

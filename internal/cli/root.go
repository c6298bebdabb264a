package cli

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/notedock/notedock/internal/config"
	"github.com/notedock/notedock/internal/logger"
	"github.com/notedock/notedock/internal/metrics"
	"github.com/notedock/notedock/pkg/notebook"
	"github.com/notedock/notedock/pkg/service"
	"github.com/notedock/notedock/pkg/store"
	"github.com/notedock/notedock/pkg/vault"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "notedock",
	Short: "Notedock - scoped agent execution for notebooks",
	Long: `Notedock runs LLM agents against a notebook of files inside a strict
permission scope. Every file operation passes a guard, lands in an
append-only audit log, and credentials never touch disk unencrypted.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.notedock/notedock.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	svc     *service.Service
	store   *store.Store
	metrics *metrics.Metrics
	srv     *http.Server
}

// newApp loads config, wires the stack and returns a ready service.
// The vault key is generated and persisted on first run.
func newApp() (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Vault.KeyHex == "" {
		keyHex, err := vault.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating vault key: %w", err)
		}
		cfg.Vault.KeyHex = keyHex
		if err := loader.Save(cfg); err != nil {
			return nil, fmt.Errorf("persisting vault key: %w", err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	zl := log.GetZerolog()

	db, err := store.Open(cfg.DatabasePath, zl)
	if err != nil {
		log.Close()
		return nil, err
	}

	nb, err := notebook.NewFSStore(cfg.NotebookRoot, zl)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	v, err := vault.NewFromHex(cfg.Vault.KeyHex)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	m := metrics.New()

	svc, err := service.New(service.Config{
		Store:       db,
		Vault:       v,
		Notebook:    nb,
		Logger:      zl,
		Metrics:     m,
		CallTimeout: time.Duration(cfg.Engine.CallTimeoutSeconds) * time.Second,
	})
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, svc: svc, store: db, metrics: m}
	if cfg.Metrics.Enabled {
		a.serveMetrics()
	}
	return a, nil
}

// serveMetrics exposes the Prometheus endpoint for the lifetime of
// the command.
func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	addr := net.JoinHostPort(a.cfg.Metrics.Host, strconv.Itoa(a.cfg.Metrics.Port))
	a.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
}

// Close releases command resources in reverse start order.
func (a *app) Close() {
	if a.srv != nil {
		a.srv.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/betterseqta/settings-go/internal/config"
	"github.com/betterseqta/settings-go/internal/settings"
	"github.com/betterseqta/settings-go/internal/storage"
)

const readyTimeout = 10 * time.Second

// app carries global flags and the resolved configuration between commands.
type app struct {
	configPath string
	dataDir    string
	backend    string
	debug      bool

	out    io.Writer
	errOut io.Writer
	cfg    config.Config

	// onListen is called with the bound address once serve is accepting.
	onListen func(addr string)
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "settingsd",
		Short: "Reactive settings store daemon and CLI",
		Long: `settingsd keeps a persisted key/value settings namespace, serves it over
HTTP with change notifications, and edits it from the command line.

Configuration is read from --config (YAML), then .env and SETTINGSD_*
environment variables, then command-line flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	bindGlobalFlags(root.PersistentFlags(), a)

	root.AddCommand(
		newServeCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newListCmd(a),
		newResetCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
	)
	return root
}

func bindGlobalFlags(fs *pflag.FlagSet, a *app) {
	fs.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&a.dataDir, "data-dir", "", "data directory (default: ~/.config/settingsd)")
	fs.StringVar(&a.backend, "backend", "", "storage backend: json, sqlite or memory")
	fs.BoolVar(&a.debug, "debug", false, "enable debug logging")
}

// load resolves the configuration and installs the logger.
func (a *app) load() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.SetDefault(cfg.Log.NewLogger(a.errOut))
	a.cfg = cfg
	return nil
}

// storeErrors keeps the first failure the store reports in the background.
type storeErrors struct {
	mu     sync.Mutex
	err    error
	failed chan struct{} // closed on the first error
}

func newStoreErrors() *storeErrors {
	return &storeErrors{failed: make(chan struct{})}
}

func (e *storeErrors) record(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
		close(e.failed)
	}
}

func (e *storeErrors) first() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// openedStore is a store together with the adapter it owns.
type openedStore struct {
	*settings.Store
	adapter storage.Adapter
	errs    *storeErrors
	// strict makes Close return failures the store reported in the background.
	strict bool
}

// Close flushes and closes the store, then the adapter.
func (o *openedStore) Close(ctx context.Context) error {
	err := errors.Join(o.Store.Close(ctx), o.adapter.Close())
	if o.strict {
		err = errors.Join(err, o.errs.first())
	}
	return err
}

// openStore opens the configured adapter and starts a store over it. With
// migrate set, stored settings are brought up to the current schema first.
func (a *app) openStore(ctx context.Context, migrate bool) (*openedStore, error) {
	if a.cfg.Backend != storage.BackendMemory {
		if err := os.MkdirAll(a.cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	adapter, err := storage.Open(ctx, a.cfg.StorageOptions())
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := storage.ApplyDefaults(ctx, adapter); err != nil {
			adapter.Close()
			return nil, err
		}
	}

	errs := newStoreErrors()
	opts := []settings.Option{
		settings.WithLogger(slog.Default()),
		settings.WithErrorHandler(errs.record),
	}
	if a.cfg.WriteLimit > 0 {
		burst := max(1, int(a.cfg.WriteLimit))
		opts = append(opts, settings.WithWriteLimit(rate.Limit(a.cfg.WriteLimit), burst))
	}
	return &openedStore{Store: settings.New(adapter, opts...), adapter: adapter, errs: errs}, nil
}

// withStore runs fn against a hydrated store and closes it afterwards.
func (a *app) withStore(ctx context.Context, fn func(*settings.Store) error) error {
	store, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	store.strict = true

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	select {
	case <-store.Ready():
	case <-store.errs.failed:
		return fmt.Errorf("load settings: %w", store.Close(context.Background()))
	case <-readyCtx.Done():
		closeErr := store.Close(context.Background())
		return errors.Join(fmt.Errorf("load settings: %w", readyCtx.Err()), closeErr)
	}

	fnErr := fn(store.Store)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), readyTimeout)
	defer closeCancel()
	return errors.Join(fnErr, store.Close(closeCtx))
}

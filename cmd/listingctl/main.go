// Command listingctl inspects and edits listings directly in the configured
// key/value store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sudo-init-do/repairnet/internal/config"
	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/logging"
)

var noColor bool

type app struct {
	cfg       config.Config
	logger    *logrus.Logger
	openStore func(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (kvstore.Store, error)
	store     kvstore.Store
}

func (a *app) controller(ctx context.Context) (*listing.Controller, error) {
	if a.store == nil {
		s, err := a.openStore(ctx, a.cfg.Store, a.logger)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = s
	}
	opts := []listing.Option{
		listing.WithLogger(a.logger),
		listing.WithConcurrency(a.cfg.Listing.FetchConcurrency),
		listing.WithMaxListings(a.cfg.Listing.MaxListings),
	}
	if a.cfg.Listing.Permissive {
		opts = append(opts, listing.Permissive())
	}
	return listing.NewController(a.store, opts...), nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("closing store")
		}
		a.store = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	var driver, path string
	root := &cobra.Command{
		Use:           "listingctl",
		Short:         "Manage repair-service listings in the key/value store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if driver != "" {
				a.cfg.Store.Driver = driver
			}
			if path != "" {
				a.cfg.Store.Path = path
			}
			return a.cfg.Validate()
		},
	}
	root.PersistentFlags().StringVar(&driver, "driver", "", "store driver (memory, leveldb, sqlite, postgres, redis)")
	root.PersistentFlags().StringVar(&path, "path", "", "leveldb directory or sqlite data directory")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newListCmd(a),
		newCreateCmd(a),
		newTransitionCmd(a, "match <id>", "Mark an available listing as matched", listing.StatusMatched),
		newTransitionCmd(a, "complete <id>", "Mark a matched listing as completed", listing.StatusCompleted),
		newStatsCmd(a),
		newTokenCmd(a),
	)
	return root
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		printError(os.Stderr, "%v", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, "text")
	logger.SetOutput(os.Stderr)

	a := &app{cfg: cfg, logger: logger, openStore: kvstore.Open}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		printError(os.Stderr, "%v", err)
		a.close()
		os.Exit(1)
	}
}

/*
Package cli implements the rentledger command line.

COMMANDS:
  serve       Run the HTTP API, adjustment job and event publisher
  statement   Print a counterparty statement as JSON
  accrue      Generate a contract's entries from a JSON definition
  reset       Delete every entry and cash account

CONFIGURATION:
  Every command reads --config (default rentledger.toml, optional) and
  the RENTLEDGER_* environment overrides described in config/config.go.

SEE ALSO:
  - cmd/rentledger/main.go: Entry point
*/
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/rent-ledger/accounts"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/observability"
	"github.com/warp/rent-ledger/store/sqlstore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rentledger",
	Short: "Double-entry rent accounting ledger",
	Long: `rentledger records rent, commission and deposit entries, applies tenant
payments through a waterfall and liquidates creditors in proportion to what
was actually collected.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the TOML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// RUNTIME
// =============================================================================

// runtime is what every command needs: configuration, the store and an
// engine wired over it.
type runtime struct {
	cfg    config.Config
	log    zerolog.Logger
	store  *sqlstore.Store
	engine *ledger.Engine
}

func openRuntime(component string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := observability.NewLoggerWithLevel(os.Stderr, component, observability.ParseLevel(cfg.Log.Level))

	st, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}

	rt := &runtime{cfg: cfg, log: log, store: st}
	rt.engine = rt.newEngine()
	return rt, nil
}

// newEngine builds an engine over the runtime's store with the configured
// chart, retries and default cash account, plus any extra options.
func (rt *runtime) newEngine(extra ...ledger.Option) *ledger.Engine {
	opts := []ledger.Option{
		ledger.WithChart(accounts.NewStaticChart(rt.cfg.Chart)),
		ledger.WithLogger(rt.log),
		ledger.WithMaxRetries(rt.cfg.Ledger.MaxRetries),
		ledger.WithDefaultCashAccount(ledger.CashAccountID(rt.cfg.Ledger.DefaultCashAccount)),
	}
	return ledger.NewEngine(rt.store, append(opts, extra...)...)
}

func (rt *runtime) cashAccounts() []ledger.CashAccount {
	out := make([]ledger.CashAccount, len(rt.cfg.CashAccounts))
	for i, a := range rt.cfg.CashAccounts {
		out[i] = ledger.CashAccount{ID: ledger.CashAccountID(a.ID), Name: a.Name}
	}
	return out
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

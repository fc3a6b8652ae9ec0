package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CloudNativeWorks/cnw-machine-license/internal/config"
	"github.com/CloudNativeWorks/cnw-machine-license/internal/logging"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/console"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/ledger"
)

type rootFlags struct {
	logLevel       string
	logFormat      string
	ledgerURL      string
	ledgerDatabase string
}

func (f *rootFlags) bind(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&f.logLevel, "log-level", cfg.Log.Level,
		"log level: trace, debug, info, warn, error (env MLICENSE_LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", cfg.Log.Format,
		"log format: text or json (env MLICENSE_LOG_FORMAT)")
	fs.StringVar(&f.ledgerURL, "ledger-url", cfg.Ledger.URL,
		"issuance ledger: postgres://, mongodb:// or memory:// (env MLICENSE_LEDGER_URL)")
	fs.StringVar(&f.ledgerDatabase, "ledger-database", cfg.Ledger.Database,
		"MongoDB database name for the ledger (env MLICENSE_LEDGER_DATABASE)")
}

// cli carries the state shared by mlsign subcommands.
type cli struct {
	cfg   *config.Config
	fs    afero.Fs
	flags rootFlags
	log   *logrus.Logger

	// ledger, when set, is used instead of opening one from flags. It is
	// not closed by the commands.
	ledger ledger.Ledger
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mlsign",
		Short: "Issue machine-bound licenses",
		Long: `mlsign signs license claims with the administrator's RSA private key.
Key files are only read by the signing backend; the front ends (command
flags, terminal forms or a local browser page) dispatch operations to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.NewWithOutput(cmd.ErrOrStderr(), c.flags.logLevel, c.flags.logFormat)
			if err != nil {
				return err
			}
			c.log = log
			return nil
		},
	}
	c.flags.bind(cmd.PersistentFlags(), c.cfg)

	cmd.AddCommand(newIssueCmd(c))
	cmd.AddCommand(newInteractiveCmd(c))
	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newHistoryCmd(c))
	return cmd
}

// openLedger returns the ledger and a func that releases it.
func (c *cli) openLedger(ctx context.Context) (ledger.Ledger, func(), error) {
	if c.ledger != nil {
		return c.ledger, func() {}, nil
	}
	l, err := ledger.Open(ctx, c.flags.ledgerURL, c.flags.ledgerDatabase)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Close(closeCtx); err != nil {
			c.log.WithError(err).Warn("failed to close ledger")
		}
	}, nil
}

func (c *cli) newBackend(host console.Host, l ledger.Ledger) *console.Backend {
	opts := []mlicense.SignerOption{mlicense.WithSignerFs(c.fs)}
	if c.cfg.KeyPassphrase != "" {
		opts = append(opts, mlicense.WithKeyPassphrase([]byte(c.cfg.KeyPassphrase)))
	}
	return console.NewBackend(mlicense.NewSigner(opts...), host,
		console.WithLedger(l),
		console.WithLogger(c.log),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	cmd := newRootCmd(&cli{cfg: cfg, fs: afero.NewOsFs()})
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrf("✗ %v\n", err)
		os.Exit(1)
	}
}

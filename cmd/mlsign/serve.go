package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/console"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	listen    string
	key       string
	keyDir    string
	outputDir string
}

func newServeCmd(c *cli) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the signing operations to a local browser front end",
		Long: `serve listens on a loopback address and accepts the pick-private-key,
sign-license and save-artifact operations as JSON POST requests under
/v1/ops/. Every request must send the token printed at startup as
"Authorization: Bearer <token>". Dialogs run in this terminal unless --key
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.listen, "listen", c.cfg.ListenAddr, "loopback address to listen on (env MLICENSE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&flags.key, "key", "", "private key path answered to every key request")
	cmd.Flags().StringVar(&flags.keyDir, "key-dir", c.cfg.KeyDir, "directory the key picker starts in")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", ".", "directory licenses are saved to")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, flags serveFlags) error {
	if err := console.CheckLoopback(flags.listen); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, release, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer release()

	var host console.Host
	if flags.key != "" {
		host = &console.StaticHost{Fs: c.fs, KeyPath: flags.key, OutputDir: flags.outputDir}
	} else {
		host = &console.TerminalHost{Fs: c.fs, KeyDir: flags.keyDir, OutputDir: flags.outputDir}
	}

	token, err := console.NewToken()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", flags.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", flags.listen, err)
	}
	cmd.Printf("✔ serving on http://%s%s/\n", ln.Addr(), console.OpsPath)
	cmd.Printf("  token: %s\n", token)

	return c.serve(ctx, ln, c.newBackend(host, l), token)
}

// serve runs the HTTP front end on ln until ctx is done. Requests must
// carry token.
func (c *cli) serve(ctx context.Context, ln net.Listener, backend console.Dispatcher, token string) error {
	srv := &http.Server{
		Handler:      console.NewHandler(backend, c.log, console.RequireBearerToken(token)),
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	c.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/selune-dev/selune/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Serve the HTTP and WebSocket API the chat frontend talks to, plus the
scheduled cleanup of stale sessions. Blocks until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled in config")
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:         a.cfg.Gateway.Port,
		SharedSecret: a.cfg.Gateway.SharedSecret,
		Controller:   a.controller,
		Directory:    a.directory,
		Logger:       a.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}

	if err := a.cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer func() {
		if err := a.cleanup.Stop(); err != nil {
			zl := a.logger.GetZerolog()
			zl.Warn().Err(err).Msg("Cleanup stop error")
		}
	}()

	if err := server.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl := a.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("Shutting down")

	return server.Stop()
}

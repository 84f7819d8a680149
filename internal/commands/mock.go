package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gaborage/twinclient/mockapi"
)

func newMockServerCommand(rt *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve the development mock backend",
		Long: `Serves an emulation of the digital-twin backend with seeded accounts and
patients. Demo accounts: admin@twin.dev / twin-admin,
clinician@twin.dev / twin-clinician, researcher@twin.dev / twin-researcher.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := rt.cfg
			if addr == "" {
				addr = cfg.Mock.Addr
			}
			server := mockapi.New(mockapi.Config{
				Secret:     cfg.Mock.Secret,
				AccessTTL:  cfg.Mock.AccessTTL,
				LoginRate:  cfg.Mock.LoginRateLimit,
				LoginBurst: cfg.Mock.LoginBurst,
				Version:    cfg.App.Version,
			}, rt.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			rt.log.Info().Msg("Mock backend stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default mock.addr)")
	return cmd
}

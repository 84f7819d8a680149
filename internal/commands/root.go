// Package commands implements the twinctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/twinclient/api"
	"github.com/gaborage/twinclient/auth"
	"github.com/gaborage/twinclient/config"
	"github.com/gaborage/twinclient/logger"
	"github.com/gaborage/twinclient/mapper"
	"github.com/gaborage/twinclient/observability"
	"github.com/gaborage/twinclient/retry"
)

const shutdownTimeout = 5 * time.Second

// app carries what every command shares once the configuration is loaded.
type app struct {
	configFile string
	logLevel   string

	cfg *config.Config
	log logger.Logger
	obs observability.Provider
}

// NewRootCommand creates the twinctl command tree.
func NewRootCommand(version string) *cobra.Command {
	rt := &app{}

	root := &cobra.Command{
		Use:   "twinctl",
		Short: "Command-line client for the digital-twin backend",
		Long: `twinctl talks to the digital-twin backend through the session-aware client:
it persists the login session, refreshes tokens before they expire, retries
transient failures, and can serve a local mock backend for development.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  rt.setup,
		PersistentPostRunE: rt.teardown,
	}
	root.PersistentFlags().StringVarP(&rt.configFile, "config", "c", "", "Configuration file (default ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newLoginCommand(rt),
		newLogoutCommand(rt),
		newWhoamiCommand(rt),
		newTokenCommand(rt),
		newHealthCommand(rt),
		newRequestCommand(rt),
		newPatientsCommand(rt),
		newMockServerCommand(rt),
		newConfigCommand(rt),
	)
	return root
}

func (rt *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.WithFile(rt.configFile))
	if err != nil {
		return err
	}
	if rt.logLevel != "" {
		cfg.Log.Level = rt.logLevel
	}
	rt.cfg = cfg
	rt.log = logger.NewWithWriter(cfg.Log.Level, cfg.Log.Pretty, cmd.ErrOrStderr(), nil).
		WithFields(map[string]any{"command": cmd.Name()})

	obs, err := observability.NewProvider(&cfg.Observability, observability.WithLogger(rt.log))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	rt.obs = obs
	return nil
}

func (rt *app) teardown(_ *cobra.Command, _ []string) error {
	if rt.obs == nil {
		return nil
	}
	return observability.Shutdown(rt.obs, shutdownTimeout)
}

// openSession builds the session client over the configured store. The
// returned func releases the session and the store.
func (rt *app) openSession(ctx context.Context) (*api.Session, func(), error) {
	store, err := openStore(ctx, rt.cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	cfg := rt.cfg
	session, err := api.NewSession(ctx, api.SessionConfig{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Tracing: cfg.API.Tracing,
		Retry: retry.Config{
			MaxRetries:       cfg.Retry.MaxRetries,
			BaseDelay:        cfg.Retry.BaseDelay,
			MaxDelay:         cfg.Retry.MaxDelay,
			RetryStatusCodes: cfg.Retry.StatusCodes,
			RetryErrorCodes:  cfg.Retry.ErrorCodes,
		},
		Store:  store,
		Logger: rt.log,
		Mapper: mapper.New(mapper.WithVersionPrefix(cfg.API.VersionPrefix)),
		AuthOptions: []auth.Option{
			auth.WithRefreshBuffer(cfg.Auth.RefreshBuffer),
			auth.WithDefaultTokenLifetime(cfg.Auth.DefaultLifetime),
			auth.WithStorageKeys(cfg.Auth.TokensKey, cfg.Auth.UserKey),
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	release := func() {
		session.Close()
		if err := store.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close session store")
		}
	}
	return session, release, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

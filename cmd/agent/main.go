package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"verichat/internal/agent"
	"verichat/internal/config"
	"verichat/internal/gate"
	"verichat/internal/hub"
	"verichat/internal/identity"
	"verichat/internal/logger"
	"verichat/internal/metrics"
	"verichat/internal/prefs"
	"verichat/internal/server"
	"verichat/internal/session"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "verichat-agent",
		Short:         "Client session agent: login state, MFA prompts and credential gating",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var ginMode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Restore the session and serve the local agent API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgentConfig()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, Service: "verichat-agent"})
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, ginMode, log)
		},
	}
	cmd.Flags().StringVar(&ginMode, "gin-mode", gin.ReleaseMode, "gin mode (debug, release, test)")
	return cmd
}

func run(ctx context.Context, cfg config.AgentConfig, ginMode string, log *zap.Logger) error {
	store, err := prefs.Open(ctx, prefs.Options{
		Driver:    cfg.PrefsDriver,
		FilePath:  cfg.PrefsFile,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	m := metrics.New("verichat_agent")
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	client := identity.New(
		identity.NewHTTPService(cfg.IdentityURL, cfg.PartnerID, httpClient, store),
		identity.NewHTTPAssertionSource(cfg.BackendURL, httpClient),
		identity.WithLogger(log.Named("identity")),
		identity.WithMetrics(m),
	)
	if err := client.Initialize(identity.Config{
		PartnerID: cfg.PartnerID,
		AppName:   cfg.AppName,
		IssuerID:  cfg.IssuerID,
		ReturnURL: cfg.AppURL,
	}); err != nil {
		return err
	}

	events := hub.New()
	machine := session.New(client, store,
		session.WithLogger(log.Named("session")),
		session.WithMetrics(m),
	)
	resourceGate := gate.New(client,
		gate.WithLogger(log.Named("gate")),
		gate.WithMetrics(m),
		gate.WithObserver(agent.GateEvents(events, log)),
	)

	gin.SetMode(ginMode)
	router := agent.NewRouter(agent.Deps{
		Machine:        machine,
		Gate:           resourceGate,
		Location:       gate.NewLocation("/dashboard"),
		Hub:            events,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        m,
		Logger:         log,
		Version:        version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agent.ForwardState(gctx, machine, events, log)
		return nil
	})
	g.Go(func() error {
		// A failed check leaves the agent logged out; it still serves.
		if err := machine.Start(gctx); err != nil {
			log.Warn("session restore failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, server.Options{Port: cfg.Port, Logger: log}, router)
	})
	return g.Wait()
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"verichat/internal/auth"
	"verichat/internal/config"
	"verichat/internal/keys"
	"verichat/internal/logger"
	"verichat/internal/metrics"
	"verichat/internal/server"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "verichat-server",
		Short:         "Partner assertion signer and JWKS publisher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), keysCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /.well-known/jwks.json and /api/generate-jwt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, Service: "verichat-backend"})
			defer func() { _ = log.Sync() }()

			provider := keys.NewProvider(cfg.PrivateKeyFile, cfg.PublicKeyFile, cfg.KeyCacheTTL)
			signer := auth.NewSigner(cfg.PartnerID, provider)
			if err := signer.Configured(); err != nil {
				log.Error("PARTNER_ID is not set; /api/generate-jwt will answer 500", zap.Error(err))
			}
			if _, err := provider.PrivateKey(); err != nil {
				log.Error("signing key unavailable", zap.String("path", cfg.PrivateKeyFile), zap.Error(err))
			}
			if _, err := provider.PublicKey(); err != nil {
				log.Error("public key unavailable", zap.String("path", cfg.PublicKeyFile), zap.Error(err))
			}

			gin.SetMode(cfg.GinMode)
			router := server.NewRouter(server.Deps{
				Signer:             signer,
				Publisher:          auth.NewPublisher(provider),
				AllowedOrigins:     cfg.AllowedOrigins,
				AssertionRateLimit: cfg.AssertionRateLimit,
				Metrics:            metrics.New("verichat_backend"),
				Logger:             log,
				Version:            version,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, server.Options{
				Port:        cfg.Port,
				TLSCertFile: cfg.TLSCertFile,
				TLSKeyFile:  cfg.TLSKeyFile,
				Logger:      log,
			}, router)
		},
	}
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the assertion signing key pair",
	}

	var (
		out       string
		bits      int
		overwrite bool
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a new RSA key pair (private.key, public.key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			privPath, pubPath, err := keys.Generate(out, bits, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\nkid %s\n", privPath, pubPath, auth.KeyID)
			return nil
		},
	}
	generate.Flags().StringVar(&out, "out", ".", "directory to write the key pair into")
	generate.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	generate.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing key files")

	cmd.AddCommand(generate)
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/config"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/database"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/server"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/suggest"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile       string
	tokenExternal string
	tokenEmail    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskhub-api",
		Short: "TaskHub task-tracking backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newSeedCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key (overrides env)")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "gemini.api_key", "gemini-api-key")
	bindFlag(cmd, "gemini.model", "gemini-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.GeminiAPIKey == "" {
		return fmt.Errorf("gemini.api_key is required")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionManager, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	resolver, err := users.NewResolver(users.ResolverConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tasksService, err := tasks.NewService(tasks.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	generator, err := suggest.NewGenerator(suggest.GeneratorConfig{
		APIKey:   appConfig.GeminiAPIKey,
		Model:    appConfig.GeminiModel,
		Endpoint: appConfig.GeminiEndpoint,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionManager,
		Resolver:         resolver,
		TasksService:     tasksService,
		Generator:        generator,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newTokenCommand mints a session token for local development against a
// running server, standing in for the external identity provider.
func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token for an external id and email",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			sessionManager, err := auth.NewSessionManager(auth.SessionManagerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := sessionManager.IssueToken(tokenExternal, tokenEmail)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in: %d\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenExternal, "external-id", "", "External identity handle")
	cmd.Flags().StringVar(&tokenEmail, "email", "", "Email asserted by the identity provider")
	return cmd
}

// newSeedCommand inserts demo users and tasks for local development.
func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users and tasks into the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			resolver, err := users.NewResolver(users.ResolverConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}
			tasksService, err := tasks.NewService(tasks.ServiceConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			seeds := []struct {
				externalID string
				email      string
				title      string
				completed  bool
			}{
				{"user_alice_001", "alice@example.com", "Buy groceries", false},
				{"user_bob_002", "bob@example.com", "Finish project", true},
			}
			for _, seed := range seeds {
				user, err := resolver.ResolveOrCreate(ctx, users.NewIdentityRef(seed.externalID, seed.email))
				if err != nil {
					return err
				}
				if _, err := tasksService.Create(ctx, user.ID, seed.title, seed.completed, ""); err != nil {
					return err
				}
				logger.Info("seeded user",
					zap.Int64("user_id", user.ID),
					zap.String("email", user.Email))
			}
			return nil
		},
	}
}

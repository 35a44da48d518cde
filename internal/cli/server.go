package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"horizon-portal/internal/app"
	"horizon-portal/internal/auth"
	"horizon-portal/internal/config"
	"horizon-portal/internal/domain"
	"horizon-portal/internal/infra/memory"
	"horizon-portal/internal/infra/postgres"
	redisinfra "horizon-portal/internal/infra/redis"
	"horizon-portal/internal/metrics"
	transport "horizon-portal/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	// Postgres backs the store when configured; otherwise everything lives in memory.
	var store app.Store
	var loader redisinfra.QuestionSetLoader
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(db)
		loader = postgres.NewQuestionSetLoader(pool)
	} else {
		mem := memory.NewStore()
		store = mem
		loader = mem
		log.Printf("postgres url not configured, using in-memory store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	cacheTTL := config.TTLDuration(cfg.Cache.TTL, 10*time.Minute)
	var questionSets app.QuestionSetRepository
	var sessions app.SessionStore
	if redisClient != nil {
		questionSets = redisinfra.NewQuestionSetCache(redisClient, loader, cacheTTL)
		sessions = redisinfra.NewSessionStore(redisClient)
	} else {
		questionSets = memory.NewQuestionSetCache(loader, cacheTTL)
		sessions = memory.NewSessionStore()
	}

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	tokenTTL := config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour)

	recorder := metrics.NewRecorder()
	clients := app.NewClientService(store, sessions, signer, tokenTTL)
	if err := bootstrapAdmin(ctx, store, clients, cfg); err != nil {
		return err
	}

	handler := transport.NewRouter(transport.API{
		Questionnaires: app.NewQuestionnaireService(store, questionSets).
			WithHub(app.NewProgressHub()).
			WithRecorder(recorder),
		Templates: app.NewTemplateService(store, questionSets),
		Projects:  app.NewProjectService(store),
		Clients:   clients,
		Metrics:   recorder.Handler(),
	})

	// no WriteTimeout: websocket connections stay open
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting portal on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// bootstrapAdmin seeds the configured admin account unless its email is already registered.
func bootstrapAdmin(ctx context.Context, store app.Store, clients *app.ClientService, cfg config.Config) error {
	if cfg.Bootstrap.AdminEmail == "" {
		return nil
	}
	_, err := store.FindUserByEmail(ctx, cfg.Bootstrap.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	u, err := clients.Register(ctx, app.UserInput{
		Name:     "Administrator",
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Printf("bootstrapped admin %s", u.Email)
	return nil
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pysugar/copilot-nexus/internal/config"
	"github.com/pysugar/copilot-nexus/internal/db"
	"github.com/pysugar/copilot-nexus/internal/gate"
	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/proxy/handlers"
	"github.com/pysugar/copilot-nexus/internal/proxy/middleware"
	"github.com/pysugar/copilot-nexus/internal/upstream"
	"github.com/pysugar/copilot-nexus/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	backend := upstream.NewClient()

	accountPool := pool.New(store, backend)
	accountPool.SetClientVersion(cfg.Backend.ClientVersion)
	accountPool.Load()
	defer accountPool.Close()

	seedAccounts(accountPool, cfg.Accounts)

	requestGate := gate.New(cfg.Gate.RateInterval(), cfg.Gate.ManualApproval)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(store))
		r.Post("/chat/completions", handlers.OpenAIChatHandler(accountPool, requestGate, backend))
		r.Post("/embeddings", handlers.EmbeddingsHandler(accountPool, requestGate, backend))
		r.Get("/models", handlers.ModelsHandler(accountPool))
		// Anthropic clients default to the bare /v1 prefix.
		r.Post("/messages", handlers.AnthropicMessagesHandler(accountPool, requestGate, backend))
	})

	// Anthropic-compatible API
	r.Route("/anthropic", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(store))
		r.Route("/v1", func(r chi.Router) {
			r.Post("/messages", handlers.AnthropicMessagesHandler(accountPool, requestGate, backend))
		})
	})

	// Observability
	r.With(middleware.APIKeyAuth(store)).Get("/usage", handlers.UsageHandler(accountPool, requestGate))

	// Management API
	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(store))
		r.Get("/accounts", handlers.AccountsListHandler(accountPool))
		r.Post("/accounts", handlers.AddAccountHandler(accountPool))
		r.Get("/api-keys", handlers.APIKeysListHandler(store))
		r.Post("/api-keys", handlers.CreateAPIKeyHandler(store))
		r.Get("/tokens", handlers.TokensStatusHandler(accountPool))
		r.Post("/tokens/{id}/refresh", handlers.RefreshTokenHandler(accountPool))
		r.Get("/approvals", handlers.ApprovalsListHandler(requestGate))
		r.Post("/approvals/{id}", handlers.ResolveApprovalHandler(requestGate))
	})

	addr := cfg.Server.Address()
	log.Printf("copilot-nexus %s (%s) starting on http://%s", version.Version, version.Commit, addr)
	log.Printf("OpenAI API: http://%s/v1", addr)
	log.Printf("Anthropic API: http://%s/anthropic/v1", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// seedAccounts registers accounts declared in config. A failed seed logs
// and continues; the server still serves whatever accounts it has.
func seedAccounts(accountPool *pool.Pool, seeds []config.AccountSeed) {
	for _, seed := range seeds {
		if seed.GithubToken == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := accountPool.AddAccountWithToken(ctx, seed.GithubToken, seed.AccountType); err != nil {
			log.Printf("Failed to seed account (type %s): %v", seed.AccountType, err)
		}
		cancel()
	}
}

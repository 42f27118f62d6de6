package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/httpapi"
	"github.com/fortresslabs/identity/internal/obs"
	"github.com/fortresslabs/identity/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envString("IDENTITY_ADDR", ":8080")

	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("IDENTITY_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		// In-memory store for local development only. State does not
		// survive a restart.
		log.Println("IDENTITY_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	svcOpts := []auth.ServiceOption{
		auth.WithTokenTTL(time.Duration(envInt("IDENTITY_TOKEN_TTL_HOURS", 24)) * time.Hour),
		auth.WithRefreshRotation(envBool("IDENTITY_ROTATE_ON_REFRESH", true)),
		auth.WithLoginRotation(envBool("IDENTITY_ROTATE_ON_LOGIN", false)),
		auth.WithRequireVerifiedEmail(envBool("IDENTITY_REQUIRE_VERIFIED_EMAIL", false)),
	}
	svc, err := auth.NewService(store, svcOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	engine := auth.NewEngine(store)
	graph := auth.NewGraph(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := graph.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtin roles: %v", err)
	}

	sweepInterval := time.Duration(envInt("IDENTITY_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute
	go auth.NewSweeper(store, sweepInterval).Run(ctx)

	apiOpts := []httpapi.Option{
		httpapi.WithSecureCookies(envBool("IDENTITY_SECURE_COOKIES", false)),
	}
	if origins := os.Getenv("IDENTITY_ALLOWED_ORIGINS"); origins != "" {
		apiOpts = append(apiOpts, httpapi.WithAllowedOrigins(strings.Split(origins, ",")))
	}
	api := httpapi.New(svc, engine, graph, probe, version, apiOpts...)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting identity-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

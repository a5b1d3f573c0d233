package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"troli/backend/internal/cart"
	"troli/backend/internal/config"
	"troli/backend/internal/event"
	"troli/backend/internal/httpapi"
	"troli/backend/internal/migration"
	"troli/backend/internal/service"
	"troli/backend/internal/storage"
	memstore "troli/backend/internal/storage/memory"
	pgstore "troli/backend/internal/storage/postgres"
	redisstore "troli/backend/internal/storage/redis"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		store     storage.Store
		userStore storage.UserStore
		closers   []func() error
	)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with a fallback backend", err)
		}
		store = pg
		userStore = pg
		closers = append(closers, pg.Close)
		log.Println("storage: postgres")
	case cfg.RedisAddr != "":
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.CartTTLSeconds)*time.Second)
		if err := rs.Ping(ctx); err != nil {
			log.Fatalf("redis unavailable (%v) and REDIS_ADDR is set; refusing to start with a fallback backend", err)
		}
		store = rs
		userStore = memstore.NewSeededUserStore()
		closers = append(closers, rs.Close)
		log.Println("storage: redis (session)")
	default:
		store = memstore.New()
		userStore = memstore.NewSeededUserStore()
		log.Println("storage: in-memory")
	}

	rules := cart.NewRuleRegistry()
	events := event.LogPublisher{}

	svc := service.New(store, rules, events, cfg.DefaultCurrency, cfg.DefaultInstance)
	migrator := migration.New(store, rules, events, cfg.DefaultCurrency, migration.MergeSumQuantities)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, userStore)
	api := httpapi.New(svc, migrator, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("cart backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

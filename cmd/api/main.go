package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultnotes/client/internal/access"
	"vaultnotes/client/internal/app"
	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/config"
	"vaultnotes/client/internal/docstore"
	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/engine/memengine"
	"vaultnotes/client/internal/eventlog"
	"vaultnotes/client/internal/passcode"
	"vaultnotes/client/internal/session"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	secret := []byte(cfg.TokenSecret)

	local, err := openLocalStore(ctx, cfg)
	if err != nil {
		log.Fatalf("local store connection failed: %v", err)
	}
	defer local.Close()

	markers, err := session.NewMarkerStore(cfg.RedisURL, cfg.MarkerTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer markers.Close()
	if err := markers.Ping(ctx); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}

	identity := engine.UserIdentity{ID: cfg.UserID, DisplayName: cfg.UserName}
	broker := auth.NewBroker(secret, cfg.TokenTTL, func() engine.UserIdentity { return identity })

	// In-process engine stand-in; a real deployment would plug the hosted
	// SDK in here instead.
	sdk := memengine.New(secret)

	events := eventlog.New()
	defer events.Close()

	challenge := passcode.New()
	initializer := session.New(sdk, broker, challenge, markers, events, identity)
	coordinator := access.NewCoordinator(identity, sdk.Documents(), sdk.Groups(), local, events)
	service := app.NewService(sdk, broker, secret, challenge, initializer, coordinator, events)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Vaultnotes client API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openLocalStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	switch cfg.LocalStoreBackend {
	case "postgres":
		log.Printf("Using PostgreSQL for the local document store")
		return docstore.OpenPostgresStore(ctx, cfg.DatabaseURL)
	case "minio":
		log.Printf("Using MinIO for the local document store")
		return docstore.NewMinioStore(ctx, docstore.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		log.Printf("Using Redis for the local document store")
		return docstore.NewRedisStore(cfg.RedisURL)
	}
}

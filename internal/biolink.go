package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/biolink/internal/config"
	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/emailutil"
	"github.com/dgellow/biolink/internal/envutil"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/log"
	"github.com/dgellow/biolink/internal/server"
	"github.com/dgellow/biolink/internal/storage"
)

// BioLink represents the complete site application
type BioLink struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	storage    storage.Storage
}

// NewBioLink creates the site application with all dependencies built
func NewBioLink(ctx context.Context, cfg config.Config) (*BioLink, error) {
	log.LogInfoWithFields("biolink", "Building site application", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"auth":    cfg.Auth.Kind,
		"storage": cfg.Storage.Kind,
	})

	store, err := setupStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	verifier, signIn, err := setupAuthentication(cfg.Auth)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}

	handler := buildHTTPHandler(cfg, store, verifier, signIn)

	return &BioLink{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		storage:    store,
	}, nil
}

// Handler returns the complete HTTP handler
func (b *BioLink) Handler() http.Handler {
	return b.handler
}

// Close releases the storage backend
func (b *BioLink) Close() error {
	return b.storage.Close()
}

// Run starts and manages the application lifecycle
func (b *BioLink) Run() error {
	log.LogInfoWithFields("biolink", "Starting site", map[string]any{
		"addr": b.config.Server.Addr,
	})

	errChan := make(chan error, 1)

	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("biolink", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("biolink", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("biolink", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := b.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("biolink", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		_ = b.storage.Close()
		return err
	}

	if err := b.storage.Close(); err != nil {
		log.LogWarnWithFields("biolink", "Storage close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("biolink", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupStorage creates the document store selected by configuration
func setupStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Kind {
	case config.StorageKindFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":  cfg.GCPProject,
			"database": cfg.FirestoreDatabase,
			"prefix":   cfg.CollectionPrefix,
		})
		store, err := storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.CollectionPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return store, nil

	case config.StorageKindMongoDB:
		log.LogInfoWithFields("storage", "Using MongoDB storage", map[string]any{
			"database": cfg.MongoDatabase,
		})
		store, err := storage.NewMongoStorage(ctx, string(cfg.MongoURI), cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB storage: %w", err)
		}
		return store, nil

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		return storage.NewMemoryStorage(), nil
	}
}

// setupAuthentication creates the bearer verifier and, when an API key is
// configured, the password sign-in client
func setupAuthentication(cfg config.AuthConfig) (idp.Verifier, server.PasswordSignIn, error) {
	if cfg.Kind == config.AuthKindPresence && !envutil.IsDev() {
		return nil, nil, fmt.Errorf("auth.kind presence is only allowed with BIOLINK_ENV=development")
	}

	verifier, err := idp.NewVerifier(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s verifier: %w", cfg.Kind, err)
	}

	client, err := idp.NewClientFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sign-in client: %w", err)
	}
	if client == nil {
		log.LogInfoWithFields("biolink", "Password sign-in disabled, no API key configured", nil)
		return verifier, nil, nil
	}
	return verifier, client, nil
}

func buildHTTPHandler(cfg config.Config, store storage.Storage, verifier idp.Verifier, signIn server.PasswordSignIn) http.Handler {
	service := content.NewService(store)

	// Principals are recorded best effort; a failed write never blocks a request
	recordUser := func(r *http.Request, identity *idp.Identity) {
		if err := service.RecordUser(r.Context(), identity); err != nil {
			log.LogWarnWithFields("biolink", "Failed to record user", map[string]any{
				"email": emailutil.Mask(identity.Email),
				"error": err.Error(),
			})
		}
	}

	return server.Routes{
		Content:           server.NewContentHandlers(service),
		Admin:             server.NewAdminHandlers(service, verifier, cfg.Auth.OwnerEmails, string(cfg.Auth.CSRFKey), recordUser),
		Public:            server.NewPublicHandlers(service, signIn),
		Session:           server.NewSessionHandlers(),
		Health:            server.NewHealthHandler(store),
		Verifier:          verifier,
		Owners:            cfg.Auth.OwnerEmails,
		OnVerified:        recordUser,
		VerifyGuardCookie: cfg.Auth.VerifyGuardCookie,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}.Handler()
}

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/biblioteca-yeak8/apiserver/config"
	"github.com/biblioteca-yeak8/apiserver/internal/db"
	"github.com/biblioteca-yeak8/apiserver/internal/handlers"
	"github.com/biblioteca-yeak8/apiserver/internal/mailer"
	"github.com/biblioteca-yeak8/apiserver/internal/mq"
	"github.com/biblioteca-yeak8/apiserver/internal/services"
	"github.com/biblioteca-yeak8/apiserver/internal/storage"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.MQ
}

// New constructs a Server with all dependencies wired up front. Nothing
// binds lazily: a missing requirement fails construction, not the first
// request that needs it.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	objectStorage, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	events, err := newEventBroker(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var sender mailer.Sender = mailer.Disabled{}
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		smtpSender, err := mailer.NewSMTPSender(cfg.SMTP)
		if err != nil {
			_ = dbConn.Close()
			return nil, err
		}
		sender = smtpSender
	}

	userRepo := store.NewUserRepository(dbConn)
	bookRepo := store.NewBookRepository(dbConn)
	loanRepo := store.NewLoanRepository(dbConn)

	policy := services.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Cooldown:    cfg.Lockout.Cooldown,
	}

	userService := services.NewUserService(userRepo)
	authService := services.NewAuthService(userRepo, policy)
	recoveryService := services.NewRecoveryService(userRepo, sender)
	bookService := services.NewBookService(bookRepo, objectStorage)

	var publisher services.EventPublisher
	if events != nil {
		publisher = events
	}
	loanService := services.NewLoanService(userRepo, bookRepo, loanRepo, publisher)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, recoveryService, jwtSecret)
	})
	router.Route("/books", func(r chi.Router) {
		handlers.BookRouter(r, bookService, authMiddleware)
	})
	router.Route("/loans", func(r chi.Router) {
		handlers.LoanRouter(r, loanService, authMiddleware)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, userService, authService, loanService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		events:     events,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	switch cfg.Backend {
	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		objectStorage := storage.NewStorage(client)
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return objectStorage, nil
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		objectStorage := storage.NewStorage(client)
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return objectStorage, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newEventBroker(ctx context.Context, cfg config.MQConfig) (*mq.MQ, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

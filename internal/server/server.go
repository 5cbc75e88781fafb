package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/cache"
	"github.com/storefront/apiserver/internal/db"
	"github.com/storefront/apiserver/internal/handlers"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/metrics"
	"github.com/storefront/apiserver/internal/mq"
	"github.com/storefront/apiserver/internal/payment"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
)

// Deps are the collaborators the HTTP API is assembled from.
type Deps struct {
	Config   config.Config
	Logger   *slog.Logger
	Users    services.UserRepository
	Products services.ProductRepository
	Orders   services.OrderRepository
	Tokens   services.TokenIssuer
	Cache    services.ProductCache
	Images   *storage.Storage
	Events   services.EventPublisher
	Payments services.PaymentProcessor
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
	db         *mongo.Database
	cache      cache.ProductCache
	mq         *mq.MQ
}

// New connects every backing service named by cfg and constructs a Server.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := store.EnsureIndexes(ctx, database); err != nil {
		_ = db.Close(context.Background(), database)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	images, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = db.Close(context.Background(), database)
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := images.EnsureBucket(ctx); err != nil {
		_ = db.Close(context.Background(), database)
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	log.Info("image storage ready", "backend", cfg.Storage.Backend, "bucket", images.Bucket())

	productCache := cache.New(ctx, cfg.Redis, cache.DefaultTTL, log)
	log.Info("product cache ready", "driver", productCache.Driver())

	deps := Deps{
		Config:   cfg,
		Logger:   log,
		Users:    store.NewUserRepository(database),
		Products: store.NewProductRepository(database),
		Orders:   store.NewOrderRepository(database),
		Tokens:   tokens,
		Cache:    productCache,
		Images:   images,
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		log.Info("order events disabled")
	case err != nil:
		_ = productCache.Close()
		_ = db.Close(context.Background(), database)
		return nil, fmt.Errorf("connect mq: %w", err)
	default:
		deps.Events = queue
		log.Info("order events enabled", "backend", cfg.MQ.Backend, "channel", queue.Channel())
	}

	if processor, err := payment.NewStripe(cfg.Stripe); err != nil {
		log.Warn("payment intents unavailable", "error", err)
	} else {
		deps.Payments = processor
	}

	router := NewRouter(deps)

	port := cfg.ServerPort
	if port == 0 {
		port = 5001
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
		db:         database,
		cache:      productCache,
		mq:         queue,
	}, nil
}

// NewRouter assembles middleware and routes over deps.
func NewRouter(deps Deps) chi.Router {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	resp := handlers.Responder{Production: deps.Config.IsProduction()}

	userService := services.NewUserService(deps.Users, deps.Tokens)
	var productOpts []services.ProductOption
	if deps.Images != nil {
		productOpts = append(productOpts, services.WithImageRemover(deps.Images))
	}
	productService := services.NewProductService(deps.Products, deps.Cache, productOpts...)
	orderService := services.NewOrderService(deps.Orders, deps.Users, deps.Events, deps.Payments)
	gate := handlers.NewGate(userService, resp)

	origins := deps.Config.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logger.Middleware(log),
		middleware.Recoverer,
		metrics.Middleware(),
		cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/metrics", metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, userService, gate, resp)
		})
		r.Route("/products", func(r chi.Router) {
			handlers.ProductRouter(r, productService, gate, resp)
		})
		r.Route("/orders", func(r chi.Router) {
			handlers.OrderRouter(r, orderService, gate, resp)
		})
		if deps.Images != nil {
			r.Route("/upload", func(r chi.Router) {
				handlers.UploadRouter(r, deps.Images, resp)
			})
		}
	})
	if deps.Images != nil {
		router.Route("/uploads", func(r chi.Router) {
			handlers.ImageRouter(r, deps.Images, resp)
		})
	}
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		resp.Error(w, r, handlers.ErrRouteNotFound(r))
	})

	return router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and releases backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.db != nil {
		_ = db.Close(ctx, s.db)
	}
	return err
}

package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/illegalcall/ai-credits/internal/config"
	"github.com/illegalcall/ai-credits/internal/credits"
	"github.com/illegalcall/ai-credits/internal/metrics"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/pkg/razorpay"
	"github.com/illegalcall/ai-credits/internal/resume"
	"github.com/illegalcall/ai-credits/internal/storage"
)

// ProfileStore is the slice of the profile store the handlers read and write.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, id, email string) error
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	AdjustCredits(ctx context.Context, id string, amount int) (int, error)
}

type ChargeGate interface {
	AuthorizeAndCharge(ctx context.Context, userID, serviceName string, cost int) (credits.Charge, error)
}

// TokenResolver maps a bearer token to the identity that owns it.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.Identity, error)
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*models.Identity, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, *models.Identity, error)
	ListUsers(ctx context.Context) ([]models.Identity, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type ImageService interface {
	TextToImage(ctx context.Context, prompt string) (string, error)
	RemoveBackground(ctx context.Context, image []byte) ([]byte, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (map[string]interface{}, error)
	KeyID() string
}

// Deps are the collaborators the server is wired with.
type Deps struct {
	Redis    *redis.Client
	Producer sarama.SyncProducer
	Profiles ProfileStore
	Gate     ChargeGate
	Auth     Authenticator
	Tokens   TokenResolver
	Images   ImageService
	Orders   OrderService
	Analyzer resume.Analyzer
	Logger   zerolog.Logger
}

type Server struct {
	app      *fiber.App
	cfg      *config.Config
	logger   zerolog.Logger
	redis    *redis.Client
	producer sarama.SyncProducer
	storage  storage.Storage
	profiles ProfileStore
	gate     ChargeGate
	auth     Authenticator
	tokens   TokenResolver
	images   ImageService
	orders   OrderService
	analyzer resume.Analyzer
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	// Initialize storage
	localStorage, err := storage.NewLocalStorage(cfg.Storage.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Storage.MaxSize,
		DisableStartupMessage: true,
		ErrorHandler:          jsonErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status}\n",
		Output: deps.Logger,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.MaxRequests,
		Expiration: cfg.Server.RequestWindow,
	}))
	app.Use(metrics.Middleware())

	server := &Server{
		app:      app,
		cfg:      cfg,
		logger:   deps.Logger,
		redis:    deps.Redis,
		producer: deps.Producer,
		storage:  localStorage,
		profiles: deps.Profiles,
		gate:     deps.Gate,
		auth:     deps.Auth,
		tokens:   deps.Tokens,
		images:   deps.Images,
		orders:   deps.Orders,
		analyzer: deps.Analyzer,
	}

	// Routes
	server.setupRoutes()

	return server, nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", metrics.Handler())

	api := s.app.Group("/api")

	// Public routes
	api.Post("/auth/register", s.handleRegister)
	api.Post("/auth/login", s.handleLogin)
	// Razorpay calls this server-to-server; the signature is the credential.
	api.Post("/payment/webhook", s.handleWebhook)

	// Protected routes
	api.Post("/payment/create-order", s.requireAuth, s.handleCreateOrder)

	user := api.Group("/user", s.requireAuth)
	user.Get("/profile", s.handleGetProfile)
	user.Get("/transactions", s.handleListTransactions)

	ai := api.Group("/ai", s.requireAuth)
	ai.Post("/text-to-image", s.handleTextToImage)
	ai.Post("/remove-background", s.handleRemoveBackground)
	ai.Post("/analyze-resume", s.handleAnalyzeResume)

	admin := api.Group("/admin", s.requireAuth, s.requireAdmin)
	admin.Get("/users", s.handleListUsers)
	admin.Delete("/users/:id", s.handleDeleteUser)
	admin.Post("/users/:id/credits", s.handleGrantCredits)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// chargeErrorStatus maps a credit gate failure to its HTTP status.
func chargeErrorStatus(err error) int {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		return fiber.StatusPaymentRequired
	case errors.Is(err, credits.ErrProfileNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) chargeError(c *fiber.Ctx, err error) error {
	status := chargeErrorStatus(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Credit charge failed")
		message = "Failed to update user credits."
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

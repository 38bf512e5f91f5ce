package handlers

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/aws"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/middleware"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/response"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/users"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultVerificationTTL = 15 * time.Minute

	// EventVerifyEmail is the event_type attribute of verification messages.
	EventVerifyEmail = "verify_email"
)

// HandlerConfig groups dependencies for the auth handler.
type HandlerConfig struct {
	DynamoDBClient aws.DynamoDBAPI
	SQSClient      aws.SQSAPI
	UsersTable     string
	QueueURL       string

	// Idempotency guards every route in the group; nil leaves them unguarded.
	Idempotency gin.HandlerFunc
	Logger      *slog.Logger

	BcryptCost      int           // 0 means bcrypt.DefaultCost
	VerificationTTL time.Duration // 0 means 15m
}

// VerificationMessage is published to SQS for the mailer after a registration.
type VerificationMessage struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Code      int    `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

// RegisterHealthRoutes registers the liveness probe.
func RegisterHealthRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"}, "")
	})
}

// RegisterAuthRoutes registers routes for the auth API under /v1/auth.
func RegisterAuthRoutes(r gin.IRouter, cfg HandlerConfig) {
	v := validation.New()
	userStore := users.NewStore(cfg.DynamoDBClient, cfg.UsersTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	ttl := cfg.VerificationTTL
	if ttl <= 0 {
		ttl = defaultVerificationTTL
	}

	group := r.Group("/v1/auth")
	if cfg.Idempotency != nil {
		group.Use(cfg.Idempotency)
	}

	group.POST("/registers", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.RegisterRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
		if err != nil {
			response.Error(c, http.StatusNotAcceptable, "hash password: "+err.Error(), nil)
			return
		}

		now := time.Now()
		user, err := userStore.Create(ctx, users.User{
			Email:                 req.Email,
			UserID:                uuid.NewString(),
			Name:                  req.Name,
			PasswordHash:          string(hash),
			VerificationCode:      100000 + rand.IntN(900000),
			VerificationExpiresAt: now.Add(ttl).Unix(),
		})
		if err != nil {
			if errors.Is(err, users.ErrEmailTaken) {
				response.Error(c, http.StatusForbidden, users.ErrEmailTaken.Error(), nil)
				return
			}
			logger.Error("create user failed", slog.String("error", err.Error()))
			response.Error(c, http.StatusInternalServerError, "register user failed", nil)
			return
		}

		// Delivery is best-effort; the user can ask for a new code.
		msg := VerificationMessage{
			EventType: EventVerifyEmail,
			UserID:    user.UserID,
			Email:     user.Email,
			Name:      user.Name,
			Code:      user.VerificationCode,
			ExpiresAt: user.VerificationExpiresAt,
		}
		attrs := map[string]string{
			"event_type":      EventVerifyEmail,
			"idempotency_key": c.GetHeader(middleware.HeaderIdempotencyKey),
			"correlation_id":  middleware.GetRequestID(c),
		}
		if err := publisher.SendJSON(ctx, msg, attrs); err != nil {
			logger.Warn("verification message not sent",
				slog.String("user_id", user.UserID),
				slog.String("error", err.Error()),
			)
		}

		response.Success(c, http.StatusCreated, gin.H{"success": true, "email": user.Email}, "")
	})

	group.POST("/verify", func(c *gin.Context) {
		var req validation.VerifyRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		err := userStore.Verify(c.Request.Context(), req.Email, req.Code)
		switch {
		case errors.Is(err, users.ErrVerificationFailed):
			response.Error(c, http.StatusNotAcceptable, err.Error(), nil)
		case err != nil:
			logger.Error("verify user failed", slog.String("error", err.Error()))
			response.Error(c, http.StatusInternalServerError, "verify user failed", nil)
		default:
			response.Success(c, http.StatusOK, gin.H{"success": true}, "")
		}
	})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/adapter/storage"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/security"
)

type AuthHandler struct {
	Repo   *storage.AccountRepository
	Tokens *security.TokenManager
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account with a zero balance. The password is hashed
// here, explicitly, before anything is persisted.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Warn("Invalid register body", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "A valid email is required"})
	}
	if len(req.Password) < 8 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Password must be at least 8 characters"})
	}
	if strings.TrimSpace(req.FullName) == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Full name is required"})
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not create account"})
	}

	account, err := h.Repo.Create(c.Context(), email, hash, strings.TrimSpace(req.FullName))
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return c.Status(http.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
		}
		slog.Error("Failed to create account", "error", err, "email", email)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not create account"})
	}

	slog.Info("✅ Account created", "id", account.ID, "email", account.Email)
	return c.Status(http.StatusCreated).JSON(account)
}

// Login verifies credentials and issues a bearer token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	account, err := h.Repo.FindByEmail(c.Context(), req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
		}
		slog.Error("Login lookup failed", "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not log in"})
	}
	if !security.VerifyPassword(req.Password, account.PasswordHash) {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	}

	token, err := h.Tokens.Issue(account)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "account_id", account.ID)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not log in"})
	}

	slog.Info("🔑 Login", "account_id", account.ID)
	return c.JSON(fiber.Map{
		"token":   token,
		"account": account,
	})
}

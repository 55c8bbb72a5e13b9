package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/adapter/storage"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

type AccountHandler struct {
	Repo *storage.AccountRepository
}

// Me returns the caller's own account with its current balance.
func (h *AccountHandler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(uuid.UUID)
	if userID == uuid.Nil {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}

	account, err := h.Repo.FindByID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
		}
		slog.Error("Profile lookup failed", "error", err, "account_id", userID)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load account"})
	}
	return c.JSON(account)
}

// List returns all accounts. Admin only.
func (h *AccountHandler) List(c *fiber.Ctx) error {
	accounts, err := h.Repo.List(c.Context())
	if err != nil {
		slog.Error("Account list failed", "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not list accounts"})
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

type AdjustRequest struct {
	Amount      int64  `json:"amount"` // signed delta, minor units
	Description string `json:"description"`
}

// Adjust applies an administrative balance correction. It goes through the
// same locked-transaction path as transfers; the balance can never be pushed
// negative.
func (h *AccountHandler) Adjust(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid account id"})
	}

	var req AdjustRequest
	if err := c.BodyParser(&req); err != nil || req.Amount == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "A non-zero integer amount is required"})
	}

	account, err := h.Repo.Adjust(c.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
		case errors.Is(err, domain.ErrInsufficientBalance):
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Adjustment would make the balance negative"})
		default:
			slog.Error("Adjustment failed", "error", err, "account_id", accountID)
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not adjust balance"})
		}
	}

	slog.Info("Balance adjusted", "account_id", accountID, "delta", req.Amount)
	return c.JSON(account)
}

// Delete removes an account along with its owned transaction history. This
// cascade is deliberate and exists only on the admin path; transfers never
// delete anything.
func (h *AccountHandler) Delete(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid account id"})
	}

	if err := h.Repo.Delete(c.Context(), accountID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
		}
		slog.Error("Account delete failed", "error", err, "account_id", accountID)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not delete account"})
	}

	slog.Info("Account deleted", "account_id", accountID)
	return c.JSON(fiber.Map{"success": true})
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/engine"
)

// TransferService is what the endpoint needs from the engine.
type TransferService interface {
	Transfer(ctx context.Context, caller engine.Caller, req engine.TransferRequest) (*domain.TransferResult, error)
	History(ctx context.Context, caller engine.Caller) ([]domain.HistoryEntry, error)
}

type TransferHandler struct {
	Service TransferService
}

type CreateTransferRequest struct {
	RecipientEmail string `json:"recipient_email"`
	Amount         int64  `json:"amount"` // minor units; fractional JSON fails parsing
	Description    string `json:"description"`
}

// Create handles POST /transfers. It only translates: caller identity from
// Locals, body into the engine request, engine outcome into a status code.
// It never touches the ledger itself.
func (h *TransferHandler) Create(c *fiber.Ctx) error {
	var req CreateTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.Service.Transfer(c.Context(), callerFromLocals(c), engine.TransferRequest{
		RecipientEmail: req.RecipientEmail,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		status, message := transferErrorResponse(err)
		return c.Status(status).JSON(fiber.Map{"error": message})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"transaction": result.Transaction,
		"new_balance": result.NewBalance,
	})
}

// History handles GET /transfers/history.
func (h *TransferHandler) History(c *fiber.Ctx) error {
	entries, err := h.Service.History(c.Context(), callerFromLocals(c))
	if err != nil {
		status, message := transferErrorResponse(err)
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return c.JSON(fiber.Map{"transactions": entries})
}

func callerFromLocals(c *fiber.Ctx) engine.Caller {
	userID, _ := c.Locals("user_id").(uuid.UUID)
	email, _ := c.Locals("email").(string)
	return engine.Caller{ID: userID, Email: email}
}

func transferErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "Recipient email, a positive integer amount and an Idempotency-Key header are required"
	case errors.Is(err, domain.ErrSelfTransfer):
		return http.StatusBadRequest, domain.ErrSelfTransfer.Error()
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient balance for this transfer"
	case errors.Is(err, domain.ErrSenderNotFound):
		return http.StatusNotFound, domain.ErrSenderNotFound.Error()
	case errors.Is(err, domain.ErrReceiverNotFound):
		return http.StatusNotFound, domain.ErrReceiverNotFound.Error()
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, domain.ErrIdempotencyConflict.Error()
	default:
		// Infrastructure failures stay generic; the cause is already logged.
		return http.StatusInternalServerError, "Transfer could not be processed"
	}
}

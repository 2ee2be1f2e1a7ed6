package rewards

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/minerush/economy/internal/middleware"
)

// Handler exposes the dig endpoint.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r fiber.Router) {
	r.Post("/rewards/dig", h.Dig)
}

type digRequest struct {
	Table string `json:"table"`
}

// Dig rolls a loot table for the caller. The Idempotency-Key header doubles
// as the ledger idempotency key of the payout.
func (h *Handler) Dig(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	var req digRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	requestID, err := ParseRequestID(c.Get(middleware.IdempotencyKeyHeader))
	if err != nil {
		return err
	}
	r, err := h.service.Dig(c.UserContext(), DigInput{UserID: uid, TableID: req.Table, RequestID: requestID})
	if err != nil {
		return err
	}
	out := fiber.Map{
		"request_id": r.RequestID,
		"table":      r.TableID,
		"kind":       r.Kind,
		"replayed":   r.Replayed,
	}
	if r.Amount > 0 {
		out["currency"] = r.Currency
		out["amount"] = r.Amount
	}
	if r.Item != nil {
		out["item"] = fiber.Map{
			"id":            r.Item.ID,
			"definition_id": r.Item.DefinitionID,
			"level":         r.Item.Level,
			"metadata":      r.Item.Metadata,
		}
	}
	return c.Status(http.StatusCreated).JSON(out)
}

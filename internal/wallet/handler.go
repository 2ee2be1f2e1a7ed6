package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/middleware"
)

// Handler exposes the caller's balances, ledger and items.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the /me routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/me/balances", h.Balances)
	r.Get("/me/ledger", h.History)
	r.Get("/me/items", h.Items)
	r.Post("/me/items/:id/equip", h.Equip)
	r.Post("/me/items/:id/unequip", h.Unequip)
}

type entryResponse struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Currency  string    `json:"currency"`
	Amount    int64     `json:"amount"`
	RefType   string    `json:"ref_type"`
	RefID     string    `json:"ref_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type itemResponse struct {
	ID           int64          `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Level        int            `json:"level"`
	State        string         `json:"state"`
	Metadata     map[string]any `json:"metadata"`
}

// Balances returns every currency balance of the caller.
func (h *Handler) Balances(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	b, err := h.service.Balances(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":   b.UserID,
		"balances":  b.Amounts,
		"timestamp": b.AsOf,
	})
}

// History returns ledger entries, filtered by ?currency= and capped by ?limit=.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	rows, err := h.service.History(c.UserContext(), uid, c.Query("currency"), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(rows))
	for _, e := range rows {
		out = append(out, entryResponse{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Currency:  e.Currency,
			Amount:    e.Amount,
			RefType:   e.RefType,
			RefID:     e.RefID,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": out})
}

// Items returns the caller's inventory.
func (h *Handler) Items(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	inv, err := h.service.Inventory(c.UserContext(), uid)
	if err != nil {
		return err
	}
	out := make([]itemResponse, 0, len(inv.Items))
	for _, it := range inv.Items {
		out = append(out, toItemResponse(it))
	}
	return c.JSON(fiber.Map{
		"items":    out,
		"listed":   inv.Count(domain.ItemListed),
		"equipped": inv.Count(domain.ItemEquipped),
	})
}

func (h *Handler) Equip(c *fiber.Ctx) error {
	return h.toggle(c, h.service.Equip)
}

func (h *Handler) Unequip(c *fiber.Ctx) error {
	return h.toggle(c, h.service.Unequip)
}

func (h *Handler) toggle(c *fiber.Ctx, fn func(ctx context.Context, userID, itemID int64) (domain.Item, error)) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid item id")
	}
	it, err := fn(c.UserContext(), uid, int64(id))
	if err != nil {
		return err
	}
	return c.JSON(toItemResponse(it))
}

func toItemResponse(it domain.Item) itemResponse {
	return itemResponse{
		ID:           it.ID,
		DefinitionID: it.DefinitionID,
		Level:        it.Level,
		State:        string(it.State),
		Metadata:     it.Metadata,
	}
}

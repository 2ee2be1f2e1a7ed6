package trade

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/middleware"
)

// Handler exposes trade offer endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the trade routes on r.
func (h *Handler) Register(r fiber.Router) {
	g := r.Group("/trade/offers")
	g.Get("/", h.List)
	g.Post("/", h.Create)
	g.Get("/public", h.ListPublic)
	g.Get("/:id", h.Get)
	g.Post("/:id/accept", h.Accept)
	g.Delete("/:id", h.Cancel)
}

type createOfferRequest struct {
	TakerID      int64      `json:"taker_id"`
	MakerItemIDs []int64    `json:"maker_item_ids"`
	TakerItemIDs []int64    `json:"taker_item_ids"`
	WantCurrency string     `json:"want_currency"`
	WantAmount   int64      `json:"want_amount"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	var req createOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	o, err := h.service.CreateOffer(c.UserContext(), CreateOfferInput{
		MakerID:      uid,
		TakerID:      req.TakerID,
		MakerItemIDs: req.MakerItemIDs,
		TakerItemIDs: req.TakerItemIDs,
		WantCurrency: req.WantCurrency,
		WantAmount:   req.WantAmount,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(offerJSON(o))
}

func (h *Handler) Accept(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := offerID(c)
	if err != nil {
		return err
	}
	res, err := h.service.AcceptOffer(c.UserContext(), uid, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"offer":             offerJSON(res.Offer),
		"transferred_items": nonNil(res.Transferred),
		"skipped_items":     nonNil(res.Skipped),
	})
}

func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := offerID(c)
	if err != nil {
		return err
	}
	o, err := h.service.CancelOffer(c.UserContext(), uid, id)
	if err != nil {
		return err
	}
	return c.JSON(offerJSON(o))
}

func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := offerID(c)
	if err != nil {
		return err
	}
	o, err := h.service.GetOffer(c.UserContext(), uid, id)
	if err != nil {
		return err
	}
	return c.JSON(offerJSON(o))
}

// List returns the caller's offers, made or received.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	rows, err := h.service.ListForUser(c.UserContext(), uid, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(rows))
	for _, o := range rows {
		out = append(out, offerJSON(o))
	}
	return c.JSON(fiber.Map{"offers": out})
}

// ListPublic lists open offers without an addressed taker.
func (h *Handler) ListPublic(c *fiber.Ctx) error {
	rows, err := h.service.ListPublic(c.UserContext(), PublicFilter{
		Currency: c.Query("currency"),
		MakerID:  int64(c.QueryInt("maker_id", 0)),
		Limit:    c.QueryInt("limit", 0),
		Offset:   c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(rows))
	for _, o := range rows {
		out = append(out, offerJSON(o))
	}
	return c.JSON(fiber.Map{"offers": out})
}

func offerID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid offer id")
	}
	return int64(id), nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func offerJSON(o domain.Offer) fiber.Map {
	m := fiber.Map{
		"id":             o.ID,
		"maker_id":       o.MakerID,
		"status":         o.Status,
		"maker_item_ids": nonNil(o.MakerItemIDs),
		"taker_item_ids": nonNil(o.TakerItemIDs),
		"created_at":     o.CreatedAt,
	}
	if o.TakerID != 0 {
		m["taker_id"] = o.TakerID
	}
	if o.WantAmount > 0 {
		m["want_currency"] = o.WantCurrency
		m["want_amount"] = o.WantAmount
	}
	if o.ExpiresAt != nil {
		m["expires_at"] = o.ExpiresAt
	}
	if o.ClosedAt != nil {
		m["closed_at"] = o.ClosedAt
	}
	return m
}

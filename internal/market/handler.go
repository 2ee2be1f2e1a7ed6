package market

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/middleware"
)

// Handler exposes market endpoints. Errors are returned unchanged and mapped
// to status codes by the application error handler.
type Handler struct {
	service *Service
}

// NewHandler constructs a market handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the market routes on r.
func (h *Handler) Register(r fiber.Router) {
	g := r.Group("/market/orders")
	g.Get("/", h.List)
	g.Post("/", h.Create)
	g.Get("/:id", h.Get)
	g.Post("/:id/fill", h.Fill)
	g.Delete("/:id", h.Cancel)
}

type createOrderRequest struct {
	ItemIDs     []int64    `json:"item_ids"`
	PayCurrency string     `json:"pay_currency"`
	PayAmount   int64      `json:"pay_amount"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Create lists items for sale.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	o, err := h.service.CreateOrder(c.UserContext(), CreateOrderInput{
		SellerID:    uid,
		ItemIDs:     req.ItemIDs,
		PayCurrency: req.PayCurrency,
		PayAmount:   req.PayAmount,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(orderJSON(o))
}

// Fill buys an order for the caller.
func (h *Handler) Fill(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid order id")
	}
	res, err := h.service.FillOrder(c.UserContext(), uid, int64(id))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"order":           orderJSON(res.Order),
		"fee":             res.Fee,
		"seller_proceeds": res.SellerProceeds,
	})
}

// Cancel withdraws the caller's order.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, err := middleware.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid order id")
	}
	o, err := h.service.CancelOrder(c.UserContext(), uid, int64(id))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(orderJSON(o))
}

// Get returns one order.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid order id")
	}
	o, err := h.service.GetOrder(c.UserContext(), int64(id))
	if err != nil {
		return err
	}
	return c.JSON(orderJSON(o))
}

// List returns open orders, filtered by ?currency=&seller_id=&limit=&offset=.
func (h *Handler) List(c *fiber.Ctx) error {
	rows, err := h.service.ListOpen(c.UserContext(), ListFilter{
		Currency: c.Query("currency"),
		SellerID: int64(c.QueryInt("seller_id", 0)),
		Limit:    c.QueryInt("limit", 0),
		Offset:   c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(rows))
	for _, o := range rows {
		out = append(out, orderJSON(o))
	}
	return c.JSON(fiber.Map{"orders": out})
}

func orderJSON(o domain.Order) fiber.Map {
	m := fiber.Map{
		"id":           o.ID,
		"seller_id":    o.SellerID,
		"status":       o.Status,
		"item_ids":     o.ItemIDs,
		"pay_currency": o.PayCurrency,
		"pay_amount":   o.PayAmount,
		"created_at":   o.CreatedAt,
	}
	if o.BuyerID != 0 {
		m["buyer_id"] = o.BuyerID
	}
	if o.ExpiresAt != nil {
		m["expires_at"] = o.ExpiresAt
	}
	if o.ClosedAt != nil {
		m["closed_at"] = o.ClosedAt
	}
	return m
}

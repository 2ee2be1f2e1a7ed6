package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/identity"
)

// errorStatus maps domain outcomes to HTTP statuses. Order matters only for
// wrapped chains carrying more than one sentinel.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrUnavailable, http.StatusServiceUnavailable},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
	{domain.ErrItemNotAvailable, http.StatusConflict},
	{domain.ErrNotOpen, http.StatusConflict},
	{domain.ErrCreateFailed, http.StatusConflict},
	{domain.ErrCannotActOnOwn, http.StatusUnprocessableEntity},
	{domain.ErrNotOwner, http.StatusForbidden},
	{domain.ErrItemNotFound, http.StatusNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound},
	{domain.ErrOfferNotFound, http.StatusNotFound},
	{domain.ErrLimitExceeded, http.StatusConflict},
	{domain.ErrCooldown, http.StatusTooManyRequests},
	{domain.ErrBelowMinimum, http.StatusUnprocessableEntity},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrInvalidCurrency, http.StatusBadRequest},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{identity.ErrUserNotFound, http.StatusUnauthorized},
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders errors as {"error": message}. Internal failures hide
// their message.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

package api

import (
	"errors"
	"net/http/httptest"
	"testing"

	"ms-orders/internal/catalog"
	"ms-orders/internal/checkout"
	"ms-orders/internal/inventory"
	"ms-orders/internal/logger"
	"ms-orders/internal/payment"

	"github.com/stretchr/testify/assert"
)

func TestCheckoutErrorStatusMapping(t *testing.T) {
	h := &Handler{Logger: logger.NewLogger()}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid plan", checkout.ErrInvalidPlan, 422},
		{"invalid selection", checkout.ErrInvalidSelection, 400},
		{"not owner", checkout.ErrNotOwner, 403},
		{"sold out", inventory.ErrInsufficientInventory, 409},
		{"provider down", payment.ErrProviderUnavailable, 502},
		{"unknown listing", catalog.ErrListingNotFound, 404},
		{"unknown plan", catalog.ErrPlanNotFound, 404},
		{"missing buyer profile", catalog.ErrBuyerNotFound, 404},
		{"unknown ticket type", inventory.ErrTicketTypeNotFound, 404},
		{"unexpected", errors.New("boom"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.checkoutError(w, tc.err)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

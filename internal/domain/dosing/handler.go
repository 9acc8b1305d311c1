package dosing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/platform/auth"
	"github.com/clinic/dispensary/internal/platform/result"
)

// Handler exposes the calculator so forms can preview quantities before a
// prescription is submitted.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dosing", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	g.POST("/quantity", h.CalculateQuantity)
}

type QuantityResponse struct {
	Type        Kind            `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Description string          `json:"description"`
}

func (h *Handler) CalculateQuantity(c echo.Context) error {
	var d Descriptor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	qty, err := d.Quantity()
	if err != nil {
		return err
	}
	return result.OK(c, QuantityResponse{
		Type:        d.Strategy.Kind(),
		Quantity:    qty,
		Description: Describe(d.Strategy),
	})
}

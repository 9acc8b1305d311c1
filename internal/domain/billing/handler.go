package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/dispensary/internal/platform/auth"
	"github.com/clinic/dispensary/internal/platform/result"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	read.GET("/prescriptions/:id/bill", h.GetBill)
	read.GET("/charges", h.ListCharges)
	read.GET("/charges/:id", h.GetCharge)

	pharmacy := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacy.POST("/prescriptions/:id/bill", h.CalculateBill)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/charges", h.CreateCharge)
	admin.PUT("/charges/:id", h.UpdateCharge)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CalculateBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CalculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.CalculateBill(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return result.OK(c, bill)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	bill, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, bill)
}

func (h *Handler) CreateCharge(c echo.Context) error {
	var ch Charge
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCharge(c.Request().Context(), &ch); err != nil {
		return err
	}
	return result.Created(c, ch)
}

func (h *Handler) GetCharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ch, err := h.svc.GetCharge(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, ch)
}

func (h *Handler) ListCharges(c echo.Context) error {
	items, err := h.svc.ListCharges(c.Request().Context(), ChargeType(c.QueryParam("type")))
	if err != nil {
		return err
	}
	return result.OK(c, items)
}

func (h *Handler) UpdateCharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var ch Charge
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ch.ID = id
	if err := h.svc.UpdateCharge(c.Request().Context(), &ch); err != nil {
		return err
	}
	return result.OK(c, ch)
}

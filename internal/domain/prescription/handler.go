package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/dispensary/internal/platform/auth"
	"github.com/clinic/dispensary/internal/platform/result"
	"github.com/clinic/dispensary/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	read.GET("/patients/:id/prescriptions", h.ListByPatient)
	read.GET("/prescriptions", h.ListPrescriptions)
	read.GET("/prescriptions/:id", h.GetPrescription)
	read.GET("/drugs/:id/strategy-history", h.StrategyHistory)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor))
	write.POST("/patients/:id/prescriptions", h.CreatePrescription)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := BuilderFromRequest(&req)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	p, err := b.Submit(ctx, h.svc, Header{
		PatientID:         patientID,
		ExtraDoctorCharge: req.ExtraDoctorCharge,
		Vitals:            req.Vitals,
		CreatedBy:         auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return result.Created(c, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, p)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return result.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := Status(c.QueryParam("status"))
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return result.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) StrategyHistory(c echo.Context) error {
	drugID, err := parseID(c)
	if err != nil {
		return err
	}
	hist, err := h.svc.StrategyHistory(c.Request().Context(), drugID)
	if err != nil {
		return err
	}
	return result.OK(c, hist)
}

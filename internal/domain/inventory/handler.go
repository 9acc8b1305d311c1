package inventory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	// Read endpoints – clinical staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	readGroup.GET("/drugs", h.ListDrugs)
	readGroup.GET("/drugs/:id", h.GetDrug)
	readGroup.GET("/drugs/:id/brands", h.AvailableBrands)
	readGroup.GET("/brands", h.ListBrands)
	readGroup.GET("/brands/:id", h.GetBrand)
	readGroup.GET("/batches/available", h.AvailableBatches)
	readGroup.GET("/batches/suggest", h.SuggestBatch)
	readGroup.GET("/stock/summary", h.StockSummary)

	// Stock management – pharmacist
	writeGroup := api.Group("", auth.RequireRole(auth.RolePharmacist))
	writeGroup.POST("/drugs", h.CreateDrug)
	writeGroup.POST("/brands", h.CreateBrand)
	writeGroup.POST("/batches", h.CreateBatch)
	writeGroup.GET("/batches", h.ListBatches)
	writeGroup.GET("/batches/:id", h.GetBatch)
	writeGroup.PUT("/batches/:id/status", h.ChangeStatus)
	writeGroup.PUT("/batches/:id/remaining", h.CorrectRemaining)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func requiredQueryIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	drugID, err := queryID(c, "drug_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	brandID, err := queryID(c, "brand_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if drugID == nil || brandID == nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "drug_id and brand_id are required")
	}
	return *drugID, *brandID, nil
}

// -- Drug Handlers --

func (h *Handler) CreateDrug(c echo.Context) error {
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDrug(c.Request().Context(), &d); err != nil {
		return err
	}
	return result.Created(c, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, d)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchDrugs(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return result.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AvailableBrands(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	levels, err := h.svc.AvailableBrands(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, levels)
}

// -- Brand Handlers --

func (h *Handler) CreateBrand(c echo.Context) error {
	var b Brand
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBrand(c.Request().Context(), &b); err != nil {
		return err
	}
	return result.Created(c, b)
}

func (h *Handler) GetBrand(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBrand(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, b)
}

func (h *Handler) ListBrands(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchBrands(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return result.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Batch Handlers --

func (h *Handler) CreateBatch(c echo.Context) error {
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBatch(c.Request().Context(), &b); err != nil {
		return err
	}
	return result.Created(c, b)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBatch(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return result.OK(c, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f BatchFilter
	var err error
	if f.DrugID, err = queryID(c, "drug_id"); err != nil {
		return err
	}
	if f.BrandID, err = queryID(c, "brand_id"); err != nil {
		return err
	}
	f.Status = BatchStatus(c.QueryParam("status"))
	f.Number = c.QueryParam("number")
	if raw := c.QueryParam("expired"); raw != "" {
		expired, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expired flag")
		}
		f.Expired = &expired
	}

	items, total, err := h.svc.SearchBatches(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return result.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AvailableBatches(c echo.Context) error {
	drugID, brandID, err := requiredQueryIDs(c)
	if err != nil {
		return err
	}
	items, err := h.svc.AvailableBatches(c.Request().Context(), drugID, brandID)
	if err != nil {
		return err
	}
	return result.OK(c, items)
}

func (h *Handler) SuggestBatch(c echo.Context) error {
	drugID, brandID, err := requiredQueryIDs(c)
	if err != nil {
		return err
	}
	b, err := h.svc.SuggestBatch(c.Request().Context(), drugID, brandID)
	if err != nil {
		return err
	}
	return result.OK(c, b)
}

func (h *Handler) StockSummary(c echo.Context) error {
	summary, err := h.svc.StockSummary(c.Request().Context())
	if err != nil {
		return err
	}
	return result.OK(c, summary)
}

type statusRequest struct {
	Status BatchStatus `json:"status"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ChangeStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return result.OK(c, b)
}

type correctionRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

func (h *Handler) CorrectRemaining(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req correctionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	adj, err := h.svc.CorrectRemaining(ctx, id, req.Quantity, req.Reason, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return result.OK(c, adj)
}

package drg

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/drg/internal/platform/auth"
	"github.com/ehr/drg/pkg/pagination"
)

// MaxBatchSize caps the number of patients in one batch request.
const MaxBatchSize = 1000

// Handler provides REST endpoints for DRG matching and catalog administration.
type Handler struct {
	svc *Service
}

// NewHandler creates a new DRG handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// MatchResponse is the body returned by the match endpoint.
type MatchResponse struct {
	CatalogVersion string `json:"catalog_version"`
	Result
}

// BatchMatchRequest is the body accepted by the batch endpoint.
type BatchMatchRequest struct {
	Patients []*PatientData `json:"patients"`
}

// BatchMatchResponse pairs results with the snapshot they were computed against.
type BatchMatchResponse struct {
	CatalogVersion string   `json:"catalog_version"`
	Results        []Result `json:"results"`
}

// RegisterRoutes registers DRG routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := auth.RequireRole(auth.RoleCoder, auth.RoleViewer)
	admin := auth.RequireRole(auth.RoleAdmin)

	g := api.Group("/drg")
	g.POST("/match", h.Match, read)
	g.POST("/match/batch", h.MatchBatch, read)
	g.POST("/match/explain", h.Explain, read)
	g.GET("/catalog", h.CatalogInfo, read)
	g.GET("/catalog/records", h.ListRecords, read)
	g.GET("/catalog/records/:id", h.GetRecord, read)
	g.POST("/catalog/reload", h.Reload, admin)
}

// Match handles POST /api/v1/drg/match
func (h *Handler) Match(c echo.Context) error {
	var patient PatientData
	if err := c.Bind(&patient); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient data: "+err.Error())
	}
	result, version, err := h.svc.Match(c.Request().Context(), &patient)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, MatchResponse{CatalogVersion: version, Result: result})
}

// MatchBatch handles POST /api/v1/drg/match/batch
func (h *Handler) MatchBatch(c echo.Context) error {
	var req BatchMatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch request: "+err.Error())
	}
	if len(req.Patients) > MaxBatchSize {
		return echo.NewHTTPError(http.StatusBadRequest, "too many patients in batch")
	}
	results, version, err := h.svc.MatchBatch(c.Request().Context(), req.Patients)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, BatchMatchResponse{CatalogVersion: version, Results: results})
}

// Explain handles POST /api/v1/drg/match/explain
func (h *Handler) Explain(c echo.Context) error {
	var patient PatientData
	if err := c.Bind(&patient); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient data: "+err.Error())
	}
	exp, err := h.svc.Explain(c.Request().Context(), &patient)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, exp)
}

// CatalogInfo handles GET /api/v1/drg/catalog
func (h *Handler) CatalogInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Info())
}

// ListRecords handles GET /api/v1/drg/catalog/records?limit=&offset=
func (h *Handler) ListRecords(c echo.Context) error {
	p := pagination.FromContext(c)
	views, total, err := h.svc.ListRecords(p.Limit, p.Offset)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, p, c.Request().URL.Path))
}

// GetRecord handles GET /api/v1/drg/catalog/records/:id
func (h *Handler) GetRecord(c echo.Context) error {
	view, err := h.svc.GetRecord(c.Param("id"))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// Reload handles POST /api/v1/drg/catalog/reload
func (h *Handler) Reload(c echo.Context) error {
	info, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "catalog reload failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoCatalog):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

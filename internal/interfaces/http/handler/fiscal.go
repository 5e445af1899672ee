package handler

import (
	"context"
	"net/http"

	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayloadReader reads an archived signed payload by its stored reference
type PayloadReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// FiscalHandler exposes the authorization pipeline over HTTP
type FiscalHandler struct {
	BaseHandler
	emissionService  *appfiscal.EmissionService
	reconcileService *appfiscal.ReconcileService
	payloads         PayloadReader
	defaultEnv       fiscal.Environment
	logger           *zap.Logger
}

// NewFiscalHandler creates a new FiscalHandler. The payload reader is
// optional; without one the download route reports the payload as not
// archived.
func NewFiscalHandler(
	emissionService *appfiscal.EmissionService,
	reconcileService *appfiscal.ReconcileService,
	payloads PayloadReader,
	defaultEnv fiscal.Environment,
	logger *zap.Logger,
) *FiscalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FiscalHandler{
		emissionService:  emissionService,
		reconcileService: reconcileService,
		payloads:         payloads,
		defaultEnv:       defaultEnv,
		logger:           logger,
	}
}

// RegisterRoutes registers fiscal routes
func (h *FiscalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/fiscal")
	{
		emissions := group.Group("/emissions")
		{
			emissions.POST("", h.Authorize)
			emissions.GET("/:id", h.GetEmission)
			emissions.GET("/:id/status", h.QueryStatus)
			emissions.GET("/:id/payload", h.DownloadPayload)
		}

		jobs := group.Group("/jobs")
		{
			jobs.GET("/:id", h.PollJob)
		}

		resolve := group.Group("/resolve")
		{
			resolve.GET("/id/:id", h.Resolve)
			resolve.GET("/key/:access_key", h.ResolveByAccessKey)
			resolve.GET("/order/:order_id", h.ResolveByOrder)
		}
	}
}

// Authorize accepts an authorization request for an order's document.
// A fresh key enqueues a background job and returns 202; a key that was
// already authorized returns the existing record synchronously.
func (h *FiscalHandler) Authorize(c *gin.Context) {
	var req AuthorizeEmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		h.BadRequest(c, "Invalid company ID")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		h.BadRequest(c, "Invalid order ID")
		return
	}

	if !h.callerAllows(c, companyID) {
		return
	}

	env := fiscal.Environment(req.Environment)
	if req.Environment == "" {
		env = h.defaultEnv
	}

	result, err := h.emissionService.Authorize(c.Request.Context(), appfiscal.AuthorizeRequest{
		CompanyID:   companyID,
		OrderID:     orderID,
		Environment: env,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := AuthorizeEmissionResponse{
		JobID:             result.JobID,
		AlreadyAuthorized: result.AlreadyAuthorized,
		Emission:          result.Emission,
	}
	if result.AlreadyAuthorized {
		h.Success(c, resp)
		return
	}
	h.Accepted(c, resp)
}

// PollJob reports the state of a background emission job. A job ID the
// store has never seen reports status "unknown" with 200, not 404.
func (h *FiscalHandler) PollJob(c *gin.Context) {
	jobID, ok := h.pathID(c)
	if !ok {
		return
	}

	result, err := h.emissionService.PollJob(c.Request.Context(), jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// GetEmission returns a canonical emission by ID within the caller's
// company scope
func (h *FiscalHandler) GetEmission(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	emission, err := h.emissionService.GetByID(c.Request.Context(), companies, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, emission)
}

// QueryStatus refreshes an emission against the authority and returns
// the interpreted outcome
func (h *FiscalHandler) QueryStatus(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	result, err := h.emissionService.QueryStatus(c.Request.Context(), companies, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// DownloadPayload streams the archived signed payload of an emission
func (h *FiscalHandler) DownloadPayload(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	emission, err := h.reconcileService.Resolve(c.Request.Context(), companies, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if h.payloads == nil || emission.SignedPayloadRef == "" {
		h.NotFound(c, "No archived payload for this emission")
		return
	}

	payload, err := h.payloads.Get(c.Request.Context(), emission.SignedPayloadRef)
	if err != nil {
		h.logger.Warn("archived payload unreadable",
			zap.String("emission_id", emission.ID.String()),
			zap.String("ref", emission.SignedPayloadRef),
			zap.Error(err),
		)
		h.NotFound(c, "No archived payload for this emission")
		return
	}
	c.Data(http.StatusOK, "application/xml", payload)
}

// Resolve returns the canonical view of an emission by ID, consulting
// the legacy store when the canonical one has no record
func (h *FiscalHandler) Resolve(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	emission, err := h.reconcileService.Resolve(c.Request.Context(), companies, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appfiscal.ToEmissionResponse(emission))
}

// ResolveByAccessKey returns the canonical view of an emission by its
// 44-digit document key
func (h *FiscalHandler) ResolveByAccessKey(c *gin.Context) {
	var uri AccessKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidAccessKey, "Access key must be exactly 44 numeric characters")
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	emission, err := h.reconcileService.ResolveByAccessKey(c.Request.Context(), companies, uri.AccessKey)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appfiscal.ToEmissionResponse(emission))
}

// ResolveByOrder returns the canonical view of the newest emission of an
// order
func (h *FiscalHandler) ResolveByOrder(c *gin.Context) {
	var uri OrderIDURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid order ID")
		return
	}
	orderID, err := uuid.Parse(uri.OrderID)
	if err != nil {
		h.BadRequest(c, "Invalid order ID")
		return
	}
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return
	}

	emission, err := h.reconcileService.ResolveByOrder(c.Request.Context(), companies, orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appfiscal.ToEmissionResponse(emission))
}

// callerAllows checks the requested company against the token scope
func (h *FiscalHandler) callerAllows(c *gin.Context, companyID uuid.UUID) bool {
	companies, err := getAllowedCompanies(c)
	if err != nil {
		h.Unauthorized(c, "Company scope not found")
		return false
	}
	for _, allowed := range companies {
		if allowed == companyID {
			return true
		}
	}
	h.Forbidden(c, "Company is outside the caller's scope")
	return false
}

// pathID binds and parses the :id path parameter
func (h *FiscalHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid ID")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(uri.ID)
	if err != nil {
		h.BadRequest(c, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

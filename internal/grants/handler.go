package grants

import (
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/ahwlsqja/permission-client/internal/common/errors"
	"github.com/ahwlsqja/permission-client/internal/common/middleware"
)

// Handler handles HTTP requests for grant files
type Handler struct {
	service *Service
}

// NewHandler creates a new grant file handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers grant file routes on the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	grants := rg.Group("/grants")
	{
		grants.POST("", h.StoreGrant)
		grants.GET("/:hash", h.GetGrant)
	}
}

// StoreGrant godoc
// @Summary Store a grant file
// @Description Validate a grant file document and store it by content hash. Identical documents share one URL.
// @Tags grants
// @Accept json
// @Produce json
// @Param name query string false "Storage name"
// @Param request body grantfile.GrantFile true "Grant file document"
// @Success 201 {object} middleware.SuccessResponse{data=GrantFileResponse} "Grant file stored"
// @Success 200 {object} middleware.SuccessResponse{data=GrantFileResponse} "Identical grant file already stored"
// @Failure 400 {object} middleware.ErrorResponse "Invalid grant file"
// @Failure 413 {object} middleware.ErrorResponse "Grant file too large"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /api/v1/grants [post]
func (h *Handler) StoreGrant(c *gin.Context) {
	var query StoreGrantQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.RespondError(c, errors.InvalidInput(err.Error()))
		return
	}

	limit := h.service.MaxSize()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		middleware.RespondError(c, errors.InvalidInput("failed to read request body"))
		return
	}
	if int64(len(body)) > limit {
		middleware.RespondError(c, errors.TooLarge(limit))
		return
	}

	resp, err := h.service.Store(c.Request.Context(), query.Name, body)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	if resp.Created {
		middleware.RespondCreated(c, resp)
		return
	}
	middleware.RespondOK(c, resp)
}

// GetGrant godoc
// @Summary Get a grant file
// @Description Return the raw grant file document stored under a content hash
// @Tags grants
// @Produce json
// @Param hash path string true "Content hash (0x-prefixed keccak256)"
// @Success 200 {object} grantfile.GrantFile "Grant file document"
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 404 {object} middleware.ErrorResponse "Grant file not found"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /api/v1/grants/{hash} [get]
func (h *Handler) GetGrant(c *gin.Context) {
	var uri GetGrantURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.RespondError(c, errors.InvalidInput(err.Error()))
		return
	}

	content, err := h.service.Get(c.Request.Context(), common.HexToHash(uri.Hash))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	// Immutable by construction
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "application/json", content)
}

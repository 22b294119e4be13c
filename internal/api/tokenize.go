package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/workflow"
)

// TokenizeHandler accepts tokenization requests and hands them to the
// lifecycle orchestrator.
type TokenizeHandler struct {
	orchestrator *workflow.Orchestrator
}

// NewTokenizeHandler creates the tokenization handler.
func NewTokenizeHandler(orchestrator *workflow.Orchestrator) *TokenizeHandler {
	return &TokenizeHandler{orchestrator: orchestrator}
}

// tokenizeRequest mirrors the caller-facing field names, which mix snake_case
// driver fields with the registry's camelCase warehouseUnitId. Numeric fields
// are pointers so "missing" and "zero" stay distinguishable to the validator.
type tokenizeRequest struct {
	OrgUID             string `json:"org_uid" binding:"required"`
	WarehouseProjectID string `json:"warehouse_project_id" binding:"required"`
	VintageYear        *int   `json:"vintage_year" binding:"required,gt=1900"`
	SequenceNum        *int   `json:"sequence_num" binding:"required,gte=0"`
	ToAddress          string `json:"to_address" binding:"required"`
	Amount             *int   `json:"amount" binding:"required,gt=0"`
	WarehouseUnitID    string `json:"warehouseUnitId" binding:"required"`
}

// Tokenize submits the mint to the driver and acknowledges immediately once
// the driver reports a pending transaction. The confirmation and registry
// reconciliation phases run detached; the caller learns nothing further from
// this route.
func (h *TokenizeHandler) Tokenize(c *gin.Context) {
	var req tokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	err := h.orchestrator.Submit(c.Request.Context(), &workflow.Request{
		OrgUID:             req.OrgUID,
		WarehouseProjectID: req.WarehouseProjectID,
		VintageYear:        *req.VintageYear,
		SequenceNum:        *req.SequenceNum,
		ToAddress:          req.ToAddress,
		Amount:             *req.Amount,
		WarehouseUnitID:    req.WarehouseUnitID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Token could not be created",
			"error":   err.Error(),
		})
		return
	}

	c.String(http.StatusOK, "Token is being created and should be ready in a few minutes.")
}

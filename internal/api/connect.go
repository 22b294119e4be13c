package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/registry"
)

// ConnectHandler implements the org connection handshake. It is the single
// writer of the identity store's home organization.
type ConnectHandler struct {
	store *identity.Store
}

// NewConnectHandler creates the handshake handler.
func NewConnectHandler(store *identity.Store) *ConnectHandler {
	return &ConnectHandler{store: store}
}

type connectRequest struct {
	OrgUID string `json:"orgUid" binding:"required"`
}

// Connect validates the candidate org id against the registry's store-id set
// and, on an exact match, commits it as the home organization. Reconnecting
// with the already-connected org id is a successful no-op; the home org is
// otherwise immutable for the process lifetime.
func (h *ConnectHandler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	id := h.store.Get()
	if id.Connected() {
		if id.HomeOrg == req.OrgUID {
			c.String(http.StatusOK, "Org uid found, hurray!")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Home organization is already connected.",
		})
		return
	}

	storeIDs, err := registry.NewClient(id.RegistryHost).GetStoreIDs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Could not verify organization against registry",
			"error":   err.Error(),
		})
		return
	}

	if !slices.Contains(storeIDs, req.OrgUID) {
		c.String(http.StatusNotFound, "Not found.")
		return
	}

	h.store.Merge(identity.Partial{HomeOrg: &req.OrgUID})
	c.String(http.StatusOK, "Org uid found, hurray!")
}

package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/bundle"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/driver"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
)

// detokSentinel is the required prefix of a decoded detokenization payload.
const detokSentinel = "detok"

// maxUploadSize bounds the raw uploaded bundle (10MB).
const maxUploadSize = 10 * 1024 * 1024

// DetokenizeHandler accepts an encrypted bundle upload, unlocks it, and
// forwards the decoded payload to the driver for parsing.
type DetokenizeHandler struct {
	store    *identity.Store
	unlocker bundle.Unlocker
}

// NewDetokenizeHandler creates the detokenization handler.
func NewDetokenizeHandler(store *identity.Store, unlocker bundle.Unlocker) *DetokenizeHandler {
	return &DetokenizeHandler{store: store, unlocker: unlocker}
}

// Detokenize unlocks the uploaded file with the supplied password, checks the
// decoded payload carries the detokenization sentinel, and returns the
// driver's parsed result verbatim. Unlock failures, sentinel mismatches, and
// driver parse failures all surface as one client error so callers cannot
// probe which layer rejected the file.
func (h *DetokenizeHandler) Detokenize(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		validationErrorMessages(c, `"file" is required`)
		return
	}
	password := c.PostForm("password")
	if password == "" {
		validationErrorMessages(c, `"password" is required`)
		return
	}

	if fileHeader.Size > maxUploadSize {
		validationErrorMessages(c, `"file" exceeds the maximum upload size`)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Uploaded file not valid.",
			"error":   err.Error(),
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Uploaded file not valid.",
			"error":   err.Error(),
		})
		return
	}

	payload, err := h.unlocker.Unlock(data, password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Uploaded file not valid.",
			"error":   err.Error(),
		})
		return
	}
	if !strings.HasPrefix(payload, detokSentinel) {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Uploaded file not valid.",
			"error":   "decoded content is not a detokenization payload",
		})
		return
	}

	parsed, err := driver.NewClient(h.store.Get().DriverHost).ParseDetokenizationPayload(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Uploaded file not valid.",
			"error":   err.Error(),
		})
		return
	}

	c.Data(http.StatusOK, "application/json", parsed)
}

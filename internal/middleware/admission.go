// admission.go provides the gateway admission gate: business routes are
// rejected outright until a home organization has been connected, so no
// proxying or tokenization can happen against an unscoped registry.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
)

// AdmissionMessage is the fixed diagnostic returned on every gated route
// while no home organization is configured.
const AdmissionMessage = "Home organization is not connected. Send your orgUid to /connect first."

// AdmissionGate returns a Gin handler that aborts with 400 when the identity
// store has no home organization yet. The identity is read per request, so a
// successful /connect opens the gate immediately without a restart.
//
// Register it on the gated route group only; /health, /ready, /version and
// /connect itself must stay reachable while disconnected.
func AdmissionGate(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Get().Connected() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"message": AdmissionMessage,
			})
			return
		}
		c.Next()
	}
}

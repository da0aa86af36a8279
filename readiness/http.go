package readiness

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// readyCode/notReadyCode mirror the teacher's business-status-code
// convention (distinct from the HTTP status code), scoped down to the two
// outcomes this handler actually reports.
const (
	readyCode    = 0
	notReadyCode = 10400
)

// readinessResponse is the JSON envelope returned by Handler, grounded on
// the teacher's ResponseOK/ResponseErr shape (code/msg/result) but collapsed
// into the one struct this single endpoint needs instead of a general
// response-envelope package.
type readinessResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result Status `json:"result"`
}

// Handler returns a gin.HandlerFunc for GET /q/health/ready, gated behind
// registration.http.enabled by the caller. Grounded on registration.go's
// StatUnfinished.GinStatUnfinished (abort-with-JSON-on-not-ready shape).
func (g *Gate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := g.Status()
		if !status.Up {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, readinessResponse{
				Code:   notReadyCode,
				Msg:    "service not ready",
				Result: status,
			})
			return
		}
		c.JSON(http.StatusOK, readinessResponse{
			Code:   readyCode,
			Msg:    "ready",
			Result: status,
		})
	}
}

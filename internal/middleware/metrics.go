package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/pkg/metrics"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

// observe records the request count and latency once the response status is
// final. Routes are labelled by pattern so ids do not explode cardinality.
func observe(c *gin.Context, rc *reqctx.Context) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	metrics.LatencyBucket.WithLabelValues(route).Observe(rc.Elapsed().Seconds())
}

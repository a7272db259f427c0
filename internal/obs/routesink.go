package obs

import (
	"context"
	"net/http"

	"github.com/AlexKimmel/courtgate/internal/routing"
)

type ctxKey int

const sinkKey ctxKey = 0

type routeSink struct {
	route *routing.Route
}

func withRouteSink(r *http.Request, s *routeSink) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sinkKey, s))
}

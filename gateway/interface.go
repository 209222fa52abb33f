package gateway

import (
	"context"
	"net/http"

	"github.com/c360/tensorscope/inspector"
)

// Inspector is the query surface the gateways expose. *inspector.Service
// implements it.
type Inspector interface {
	ListRuns() map[string][]string
	GetSeries(run, tag string) (*inspector.TensorSeries, error)
	GetWeights(ctx context.Context, q inspector.WeightQuery) ([]inspector.WeightBundle, error)
	ServeAsset(requestPath string) (*inspector.Asset, error)
	Metadata() inspector.Metadata
}

// HTTPHandler is implemented by gateways that mount routes on a shared mux.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

var _ Inspector = (*inspector.Service)(nil)

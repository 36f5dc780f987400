package search

import (
	"net/http"
	"time"

	"github.com/eklundh/strandr/pkg/health"
	"github.com/eklundh/strandr/pkg/metrics"
	"github.com/eklundh/strandr/pkg/middleware"
)

// NewRouter builds the public HTTP handler.
//
// Route table:
//
//	GET /search                            → corpus search with KWIC
//	GET /document/{corpus}/{id}            → fetch one document
//	GET /search-in-document/{corpus}/{id}  → walk matches inside a document
//	GET /related/{corpus}/{id}             → similar documents
//	GET /aggs/{corpus}/{field}             → distinct field values
//	GET /lemgrams                          → lemgram lookup passthrough
//	GET /health/live, /health/ready        → liveness and readiness
//
// Middleware chain (outermost first): RequestID → CORS → Metrics → Timeout.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /document/{corpus}/{id}", h.GetDocument)
	mux.HandleFunc("GET /search-in-document/{corpus}/{id}", h.SearchInDocument)
	mux.HandleFunc("GET /related/{corpus}/{id}", h.Related)
	mux.HandleFunc("GET /aggs/{corpus}/{field}", h.FieldValues)
	mux.HandleFunc("GET /lemgrams", h.Lemgrams)

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(chain)
	chain = middleware.RequestID(chain)
	return chain
}

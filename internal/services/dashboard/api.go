package dashboard

import (
	"net/http"

	gojson "github.com/goccy/go-json"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
)

// Resetter empties the aggregated state.
type Resetter interface {
	Clear()
}

// TableSource provides the latest-value table.
type TableSource interface {
	Latest() []aggregator.TableRow
}

// Register mounts the viewer endpoints on mux:
//
//	GET  /ws          websocket push channel
//	GET  /api/latest  latest-value table as JSON
//	POST /api/reset   clear the aggregated state
func Register(mux *http.ServeMux, hub http.Handler, reset Resetter, table TableSource) {
	mux.Handle("GET /ws", hub)
	mux.Handle("GET /api/latest", NewLatestHandler(table))
	mux.Handle("POST /api/reset", NewResetHandler(reset))
}

func NewLatestHandler(table TableSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rows := table.Latest()
		w.Header().Set("Content-Type", "application/json")
		_ = gojson.NewEncoder(w).Encode(rows)
	})
}

func NewResetHandler(reset Resetter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reset.Clear()
		w.WriteHeader(http.StatusNoContent)
	})
}

package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
)

func TestAPILatestAndReset(t *testing.T) {
	store := aggregator.NewStore()
	store.Apply([]aggregator.Update{{Name: "B_Temp_0", Value: "21", Time: "2024-05-01T12:00:00Z"}})

	mux := http.NewServeMux()
	Register(mux, NewHub(HubConfig{}, zap.NewNop()), store, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rows []aggregator.TableRow
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Equal(t, []aggregator.TableRow{{Name: "B_Temp_0", Value: "21", Timestamp: "2024-05-01T12:00:00Z"}}, rows)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.Latest())
}

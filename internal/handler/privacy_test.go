package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/budget"
	"nexus/internal/dp"
	"nexus/pkg/validator"
)

func newTestHandler(totalEpsilon float64) (*PrivacyHandler, *budget.Accountant) {
	acc := budget.NewAccountant(budget.Config{TotalEpsilon: totalEpsilon}, nil, nil)
	eng := dp.NewEngine(acc, dp.NewModel(0.5, 1.0), 10.0, nil)
	return NewPrivacyHandler(eng, acc, validator.New(), nil), acc
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDPCountReturnsNoisyCount(t *testing.T) {
	h, _ := newTestHandler(10.0)

	rec := postJSON(t, h.DPCount, "/api/dp/count", map[string]interface{}{
		"values":  []float64{1, 2, 3, 4, 5},
		"epsilon": 1.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "noisy_count")
	assert.Equal(t, 1.0, body["epsilon"])
	assert.InDelta(t, 9.0, body["remaining_epsilon"].(float64), 1e-9)
}

func TestDPCountInvalidBody(t *testing.T) {
	h, _ := newTestHandler(10.0)

	req := httptest.NewRequest(http.MethodPost, "/api/dp/count", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.DPCount(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDPCountValidationFailure(t *testing.T) {
	h, _ := newTestHandler(10.0)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing values", map[string]interface{}{"epsilon": 1.0}},
		{"empty values", map[string]interface{}{"values": []float64{}, "epsilon": 1.0}},
		{"missing epsilon", map[string]interface{}{"values": []float64{1, 2}}},
		{"negative epsilon", map[string]interface{}{"values": []float64{1, 2}, "epsilon": -1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.DPCount, "/api/dp/count", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "Validation failed", body["error"])
			assert.Contains(t, body, "fields")
		})
	}
}

func TestDPCountBudgetExhaustedReturns429(t *testing.T) {
	h, _ := newTestHandler(0.5)

	rec := postJSON(t, h.DPCount, "/api/dp/count", map[string]interface{}{
		"values":  []float64{1, 2, 3},
		"epsilon": 1.0,
	})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Insufficient privacy budget", body["error"])
	assert.Equal(t, 1.0, body["requested"])
	assert.Equal(t, 0.5, body["available"])
	assert.Equal(t, 0.5, body["total"])
}

func TestDPCountEpsilonAboveCapReturns400(t *testing.T) {
	h, _ := newTestHandler(100.0)

	rec := postJSON(t, h.DPCount, "/api/dp/count", map[string]interface{}{
		"values":  []float64{1},
		"epsilon": 50.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDPMeanReturnsNoisyMean(t *testing.T) {
	h, _ := newTestHandler(10.0)

	values := make([]float64, 500)
	for i := range values {
		values[i] = 4.0
	}

	rec := postJSON(t, h.DPMean, "/api/dp/mean", map[string]interface{}{
		"values":  values,
		"epsilon": 2.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 4.0, body["noisy_mean"].(float64), 1.0)
	assert.Equal(t, 2.0, body["epsilon"])
	assert.InDelta(t, 8.0, body["remaining_epsilon"].(float64), 1e-9)
}

func TestGetBudget(t *testing.T) {
	h, acc := newTestHandler(10.0)

	_, err := acc.Consume(context.Background(), budget.AnonymousPrincipal, 2.0, "count")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/privacy/budget", nil)
	rec := httptest.NewRecorder()
	h.GetBudget(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, budget.AnonymousPrincipal, body["principal"])
	assert.Equal(t, 10.0, body["total_epsilon"])
	assert.Equal(t, 2.0, body["consumed_epsilon"])
	assert.Equal(t, 8.0, body["remaining_epsilon"])
}

func TestGetBudgetHistory(t *testing.T) {
	h, acc := newTestHandler(10.0)

	for i := 0; i < 3; i++ {
		_, err := acc.Consume(context.Background(), budget.AnonymousPrincipal, 0.5, "count")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/privacy/budget/history?limit=2", nil)
	rec := httptest.NewRecorder()
	h.GetBudgetHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	history := body["history"].([]interface{})
	assert.Len(t, history, 2)
}

func TestGetBudgetHistoryEmptyIsArrayNotNull(t *testing.T) {
	h, _ := newTestHandler(10.0)

	req := httptest.NewRequest(http.MethodGet, "/api/privacy/budget/history", nil)
	rec := httptest.NewRecorder()
	h.GetBudgetHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"history": []}`, rec.Body.String())
}

func TestGetBudgetHistoryRejectsBadLimit(t *testing.T) {
	h, _ := newTestHandler(10.0)

	for _, limit := range []string{"abc", "-1", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/api/privacy/budget/history?limit="+limit, nil)
		rec := httptest.NewRecorder()
		h.GetBudgetHistory(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestSuggestEpsilonWithEmptyBody(t *testing.T) {
	h, _ := newTestHandler(10.0)

	req := httptest.NewRequest(http.MethodPost, "/api/privacy/budget/suggest", nil)
	rec := httptest.NewRecorder()
	h.SuggestEpsilon(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 10.0, body["remaining_budget"])

	suggestions := body["suggestions"].(map[string]interface{})
	assert.Equal(t, 0.1, suggestions["conservative"])
	assert.Equal(t, 0.5, suggestions["moderate"])
	assert.Equal(t, 1.0, suggestions["liberal"])
	assert.NotEmpty(t, body["explanation"])
}

func TestSuggestEpsilonRejectsNegativeSensitivity(t *testing.T) {
	h, _ := newTestHandler(10.0)

	rec := postJSON(t, h.SuggestEpsilon, "/api/privacy/budget/suggest", map[string]interface{}{
		"sensitivity": -1.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetBudget(t *testing.T) {
	h, acc := newTestHandler(1.0)

	_, err := acc.Consume(context.Background(), budget.AnonymousPrincipal, 1.0, "count")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/privacy/budget/reset", nil)
	rec := httptest.NewRecorder()
	h.ResetBudget(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])

	snap := acc.Inspect(budget.AnonymousPrincipal)
	assert.Equal(t, 0.0, snap.ConsumedEpsilon)
	assert.Empty(t, snap.Queries)
}

func TestConsumeBudget(t *testing.T) {
	h, acc := newTestHandler(10.0)

	rec := postJSON(t, h.ConsumeBudget, "/api/privacy/budget/consume", map[string]interface{}{
		"epsilon":    2.5,
		"query_type": "external_histogram",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 7.5, body["remaining_budget"].(float64), 1e-9)

	history := acc.History(budget.AnonymousPrincipal, 10)
	require.Len(t, history, 1)
	assert.Equal(t, "external_histogram", history[0].QueryType)
}

func TestConsumeBudgetValidation(t *testing.T) {
	h, _ := newTestHandler(10.0)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing epsilon", map[string]interface{}{"query_type": "x"}},
		{"negative epsilon", map[string]interface{}{"epsilon": -1.0, "query_type": "x"}},
		{"epsilon above cap", map[string]interface{}{"epsilon": 11.0, "query_type": "x"}},
		{"missing query type", map[string]interface{}{"epsilon": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.ConsumeBudget, "/api/privacy/budget/consume", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestConsumeBudgetExhaustedReturns429(t *testing.T) {
	h, _ := newTestHandler(1.0)

	rec := postJSON(t, h.ConsumeBudget, "/api/privacy/budget/consume", map[string]interface{}{
		"epsilon":    2.0,
		"query_type": "count",
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

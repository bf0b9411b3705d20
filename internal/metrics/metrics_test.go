package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvaluation(t *testing.T) {
	before := testutil.ToFloat64(SeriesEvaluated.WithLabelValues("H4", StatusOK))
	tradesBefore := testutil.ToFloat64(Trades.WithLabelValues("H4"))

	ObserveEvaluation("H4", StatusOK, 3*time.Millisecond, 7)

	if got := testutil.ToFloat64(SeriesEvaluated.WithLabelValues("H4", StatusOK)); got != before+1 {
		t.Errorf("series evaluated = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(Trades.WithLabelValues("H4")); got != tradesBefore+7 {
		t.Errorf("trades = %v, want %v", got, tradesBefore+7)
	}
}

func TestObserveEvaluationFailureSkipsTrades(t *testing.T) {
	tradesBefore := testutil.ToFloat64(Trades.WithLabelValues("M30"))
	ObserveEvaluation("M30", StatusData, time.Millisecond, 5)
	if got := testutil.ToFloat64(Trades.WithLabelValues("M30")); got != tradesBefore {
		t.Errorf("trades changed on failure: %v -> %v", tradesBefore, got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveEvaluation("D1", StatusOK, time.Millisecond, 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fxrange_series_evaluated_total") {
		t.Error("response does not contain fxrange_series_evaluated_total")
	}
}

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crmerr"
)

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", ResultLabel(nil))
	assert.Equal(t, "NOT_FOUND", ResultLabel(crmerr.NotFound("leads", "x")))
	assert.Equal(t, "internal", ResultLabel(errors.New("plain")))
}

func TestObserveMutation(t *testing.T) {
	before := testutil.ToFloat64(MutationsTotal.WithLabelValues("test_op", "ok"))
	ObserveMutation("test_op", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(MutationsTotal.WithLabelValues("test_op", "ok")))

	partialBefore := testutil.ToFloat64(PartialCompositeFailures.WithLabelValues("test_promote"))
	ObserveMutation("test_promote", time.Now(),
		crmerr.PartialComposite("promote lead", "d1", []string{"create deal"}, []string{"qualify lead"}, errors.New("down")))
	assert.Equal(t, partialBefore+1, testutil.ToFloat64(PartialCompositeFailures.WithLabelValues("test_promote")))
}

func TestRecordEvent(t *testing.T) {
	okBefore := testutil.ToFloat64(EventsPublished.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(EventsPublished.WithLabelValues("error"))
	RecordEvent(nil)
	RecordEvent(errors.New("broker down"))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(EventsPublished.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(EventsPublished.WithLabelValues("error")))
}

func TestSetPipelineValue(t *testing.T) {
	SetPipelineValue("payment", 12_500_000)
	assert.Equal(t, float64(12_500_000), testutil.ToFloat64(PipelineValue.WithLabelValues("payment")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/leads", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "crm_http_requests_total"))
}

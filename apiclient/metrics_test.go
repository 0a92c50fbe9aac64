package apiclient

import (
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var o Observer = observers{m, NopObserver{}}
	o.AccessTokenRejected(http.MethodGet, "/a")
	o.AccessTokenRejected(http.MethodGet, "/b")
	o.RefreshStarted()
	o.RefreshJoined()
	o.RefreshSucceeded(2)
	o.RefreshFailed(errors.New("invalid_grant"), 1)
	o.SessionTerminated()
	o.RequestFinished(http.MethodGet, "/a", nil)
	o.RequestFinished(http.MethodGet, "/b", newError(CodeSessionExpired, http.StatusUnauthorized, nil))
	o.RequestFinished(http.MethodGet, "/c", errors.New("foreign"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.unauthorized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshWaiters))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshExchanges.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshExchanges.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(string(CodeSessionExpired))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(string(CodeUnknown))))

	assert.Equal(t, 5, testutil.CollectAndCount(m.requests)+testutil.CollectAndCount(m.refreshExchanges))
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	m.SessionTerminated()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminations))
}

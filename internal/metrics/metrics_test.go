package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatchMetrics(t *testing.T) {
	t.Run("DispatchDuration", func(t *testing.T) {
		DispatchDuration.WithLabelValues("tiled").Observe(100.5)
		DispatchDuration.WithLabelValues("tiled").Observe(200.3)
		assert.Equal(t, 1, testutil.CollectAndCount(DispatchDuration.WithLabelValues("tiled").(prometheus.Histogram)))
	})

	t.Run("DispatchMFLOPS", func(t *testing.T) {
		DispatchMFLOPS.WithLabelValues("row").Set(123.45)
		assert.Equal(t, 123.45, testutil.ToFloat64(DispatchMFLOPS.WithLabelValues("row")))
	})

	t.Run("VerificationErrorSquared", func(t *testing.T) {
		VerificationErrorSquared.WithLabelValues("naive").Set(0)
		assert.Equal(t, float64(0), testutil.ToFloat64(VerificationErrorSquared.WithLabelValues("naive")))
	})

	t.Run("DispatchFailures", func(t *testing.T) {
		before := testutil.ToFloat64(DispatchFailures.WithLabelValues("tiled", "configuration"))
		DispatchFailures.WithLabelValues("tiled", "configuration").Inc()
		DispatchFailures.WithLabelValues("tiled", "configuration").Inc()
		assert.Equal(t, before+2, testutil.ToFloat64(DispatchFailures.WithLabelValues("tiled", "configuration")))
	})

	t.Run("MatrixOrder", func(t *testing.T) {
		MatrixOrder.Set(1024)
		assert.Equal(t, float64(1024), testutil.ToFloat64(MatrixOrder))
	})

	t.Run("DeviceMemoryUsedBytes", func(t *testing.T) {
		DeviceMemoryUsedBytes.Set(12582912)
		assert.Equal(t, float64(12582912), testutil.ToFloat64(DeviceMemoryUsedBytes))
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		EndpointResponses,
		DispatchDuration,
		DispatchMFLOPS,
		VerificationErrorSquared,
		DispatchFailures,
		MatrixOrder,
		DeviceMemoryUsedBytes,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already)
	}
}

func TestMiddleware(t *testing.T) {
	testCases := []struct {
		name     string
		handler  http.HandlerFunc
		endpoint string
		status   string
	}{
		{
			name:     "implicit ok",
			handler:  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			endpoint: "/ok",
			status:   "200",
		},
		{
			name:     "explicit status",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) },
			endpoint: "/teapot",
			status:   "418",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.ToFloat64(EndpointResponses.WithLabelValues(tc.endpoint, tc.status))

			rec := httptest.NewRecorder()
			Middleware(tc.handler, tc.endpoint).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.endpoint, nil))

			assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues(tc.endpoint, tc.status)))
		})
	}
}

func TestServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zap.NewNop())
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop(context.Background()) }()

	MatrixOrder.Set(64)

	resp, err := http.Get("http://" + srv.Addr() + Path)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "matmul_matrix_order 64")
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveDuration", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			DispatchDuration.WithLabelValues("naive").Observe(float64(i % 1000))
		}
	})

	b.Run("SetGauge", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			DispatchMFLOPS.WithLabelValues("naive").Set(float64(i))
		}
	})

	b.Run("IncCounter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			DispatchFailures.WithLabelValues("naive", "execution").Inc()
		}
	})
}

package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// opsMux mimics the operational endpoints served next to the bridge.
func opsMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP lingobridge_frames_sent_total\n"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session not live", http.StatusServiceUnavailable)
	})
	return mux
}

// opsRig wraps opsMux in the middleware with in-memory metric and span sinks.
type opsRig struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newOpsRig(t *testing.T) *opsRig {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return &opsRig{handler: Middleware(m)(opsMux()), reader: reader, spans: exp}
}

func (r *opsRig) get(path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_EndpointSpans(t *testing.T) {
	tests := []struct {
		path   string
		status int
	}{
		{"/metrics", http.StatusOK},
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rig := newOpsRig(t)
			rec := rig.get(tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}

			spans := rig.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if want := "HTTP GET " + tt.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			found := false
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" && a.Value.AsInt64() == int64(tt.status) {
					found = true
				}
			}
			if !found {
				t.Errorf("span attributes %v missing status %d", spans[0].Attributes, tt.status)
			}

			cid := rec.Header().Get("X-Correlation-ID")
			if len(cid) != 32 || cid != spans[0].SpanContext.TraceID().String() {
				t.Errorf("X-Correlation-ID = %q, want the span's trace ID", cid)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	rig := newOpsRig(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	rec := rig.get("/healthz", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response traceparent = %q, want trace %s", tp, traceID)
	}
	spans := rig.spans.GetSpans()
	if len(spans) != 1 || spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("span should be a child of the incoming span, got %+v", spans)
	}
}

func TestMiddleware_RecordsDurationPerEndpoint(t *testing.T) {
	rig := newOpsRig(t)
	rig.get("/metrics", nil)
	rig.get("/metrics", nil)
	rig.get("/readyz", nil)

	var rm metricdata.ResourceMetrics
	if err := rig.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "lingobridge.http.request.duration")
	if met == nil {
		t.Fatal("lingobridge.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		status, _ := dp.Attributes.Value("status")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != http.MethodGet {
			t.Errorf("method = %q, want GET", method.AsString())
		}
		counts[path.AsString()+" "+status.Emit()] += dp.Count
	}
	if counts["/metrics 200"] != 2 {
		t.Errorf("/metrics 200 count = %d, want 2 (all: %v)", counts["/metrics 200"], counts)
	}
	if counts["/readyz 503"] != 1 {
		t.Errorf("/readyz 503 count = %d, want 1 (all: %v)", counts["/readyz 503"], counts)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	rig := newOpsRig(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	rig.get("/metrics", nil)
	rig.get("/healthz", nil)
	rig.get("/readyz", nil) // 503 is not a server failure worth info
	if buf.Len() != 0 {
		t.Errorf("probe requests logged at info: %s", buf.String())
	}

	rig.get("/nope", nil)
	if !strings.Contains(buf.String(), "path=/nope") || !strings.Contains(buf.String(), "status=404") {
		t.Errorf("other requests should log at info, got: %s", buf.String())
	}
}

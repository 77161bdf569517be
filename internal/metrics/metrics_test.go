package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名のメトリクスファミリーを取得する。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAuthOperation_CountsByLabels は操作・結果ラベル別に集計されることを検証する。
func TestRecordAuthOperation_CountsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthOperation("login", OutcomeSuccess)
	c.RecordAuthOperation("login", OutcomeSuccess)
	c.RecordAuthOperation("login", OutcomeFailure)

	mf := findMetric(t, reg, "atelier_auth_operations_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "operation")+"/"+labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}
	if got["login/success"] != 2 {
		t.Errorf("login/success = %v, want 2", got["login/success"])
	}
	if got["login/failure"] != 1 {
		t.Errorf("login/failure = %v, want 1", got["login/failure"])
	}
}

// TestRecordMailDispatch_ObservesHistogram はメール送信時間のヒストグラムが記録されることを検証する。
func TestRecordMailDispatch_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMailDispatch("password_reset", ResultSent, 250*time.Millisecond)

	mf := findMetric(t, reg, "atelier_mail_dispatch_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 0.25 {
		t.Errorf("sample sum = %v, want 0.25", h.GetSampleSum())
	}
}

// TestRecordVerificationRequestsReaped_AddsCount は削除件数が加算されることを検証する。
func TestRecordVerificationRequestsReaped_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVerificationRequestsReaped(4)
	c.RecordVerificationRequestsReaped(0)
	c.RecordVerificationRequestsReaped(3)

	mf := findMetric(t, reg, "atelier_verification_requests_reaped_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 7 {
		t.Errorf("reaped_total = %v, want 7", v)
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsパスでPrometheus形式のメトリクスが返ることを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthOperation("register", OutcomeSuccess)
	c.RecordHTTPStatus(201)

	handler := SetupMetricsRoute(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{"atelier_auth_operations_total", "atelier_http_status_total"} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/kisy/netdash/pkg/logging"
	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/poller"
	"github.com/kisy/netdash/pkg/report"
	"github.com/kisy/netdash/pkg/source"
	"github.com/kisy/netdash/pkg/stats"
)

type fakeDashboard struct {
	snap       *model.Snapshot
	refreshErr error
	cmdErr     error
	refreshed  int
	commands   []string
}

func (f *fakeDashboard) Snapshot() *model.Snapshot { return f.snap }

func (f *fakeDashboard) Refresh(ctx context.Context) (*model.Snapshot, error) {
	f.refreshed++
	if f.refreshErr == poller.ErrCycleCancelled {
		return nil, f.refreshErr
	}
	return f.snap, f.refreshErr
}

func (f *fakeDashboard) SetSpeedLimit(ctx context.Context, ip string, kbps int64) error {
	f.commands = append(f.commands, fmt.Sprintf("limit %s %d", ip, kbps))
	return f.cmdErr
}

func (f *fakeDashboard) BlockDevice(ctx context.Context, ip string, block bool) error {
	f.commands = append(f.commands, fmt.Sprintf("block %s %t", ip, block))
	return f.cmdErr
}

type fakeReporter struct {
	body string
	err  error
	got  report.Request
}

func (f *fakeReporter) Download(ctx context.Context, req report.Request, w io.Writer) (int64, string, error) {
	f.got = req
	if f.err != nil {
		return 0, "", f.err
	}
	n, err := io.WriteString(w, f.body)
	return int64(n), "application/pdf", err
}

func testSnapshot() *model.Snapshot {
	s := model.NewSnapshot()
	s.CycleID = "c1"
	s.CompletedAt = time.Unix(1700000000, 0).UTC()
	s.Devices = []model.Device{
		{IP: "10.0.0.2", Hostname: "nas", Active: true, SpeedInMbps: 1, BytesIn: 1536},
		{IP: "10.0.0.3", Hostname: "tv", Active: true, Blocked: true, SpeedInMbps: 4},
	}
	for i := 0; i < 12; i++ {
		s.Visits = append(s.Visits, model.WebsiteVisit{DeviceIP: "10.0.0.2", Domain: fmt.Sprintf("d%d.com", i%3), Timestamp: int64(100 - i)})
	}
	s.Visits = append(s.Visits, model.WebsiteVisit{DeviceIP: "10.0.0.3", Domain: "tv.com", Timestamp: 1})
	s.SpeedHistory = model.SpeedHistory{"10.0.0.2": {{Timestamp: 1, SpeedIn: 2}}}
	s.Traffic = []model.TrafficRecord{
		{Timestamp: 1700000000, BytesSent: 1, BytesReceived: 2},
		{Timestamp: 1700000100, BytesSent: 3, BytesReceived: 4},
	}
	s.Provenance[model.SectionDevices] = model.Provenance{Source: "advanced"}
	s.Provenance[model.SectionVisits] = model.Provenance{Source: model.SourceDemo, Fallback: true, Error: "boom"}
	return s
}

func newTestServer(t *testing.T, dash *fakeDashboard, rep *fakeReporter) (*Server, *httptest.Server) {
	t.Helper()
	var reporter Reporter
	if rep != nil {
		reporter = rep
	}
	s := NewServer(logging.Discard(), dash, reporter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("metrics"))
	}))
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStats(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)

	var got statsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/stats", &got))
	assert.Equal(t, "c1", got.CycleID)
	assert.True(t, got.UsingFallbackData)
	assert.Equal(t, 1, got.Summary.ActiveDevices)
	assert.Equal(t, 1, got.Summary.BlockedDevices)
	assert.Equal(t, 4, got.Summary.UniqueWebsites)
	assert.Equal(t, "1.5 KB", got.Display.BytesIn)
	assert.Equal(t, "5.0 Mbps", got.Display.TotalSpeed)
	assert.Equal(t, "boom", got.Provenance[model.SectionVisits].Error)
}

func TestDevicesSortedBySpeed(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)

	var got struct {
		Devices  []model.Device `json:"devices"`
		Fallback bool           `json:"fallback"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/devices?sort=speed", &got))
	require.Len(t, got.Devices, 2)
	assert.Equal(t, "10.0.0.3", got.Devices[0].IP)
	assert.False(t, got.Fallback)
}

func TestWebsitesLimit(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)

	var got struct {
		Websites   []model.WebsiteVisit `json:"websites"`
		TopDomains []stats.DomainCount  `json:"top_domains"`
		Fallback   bool                 `json:"fallback"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/websites?limit=5", &got))
	assert.Len(t, got.Websites, 5)
	assert.True(t, got.Fallback)
	assert.Equal(t, "d0.com", got.TopDomains[0].Domain)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/websites?ip=10.0.0.3", &got))
	require.Len(t, got.Websites, 1)
	assert.Equal(t, "tv.com", got.Websites[0].Domain)
	assert.Equal(t, []stats.DomainCount{{Domain: "tv.com", Visits: 1}}, got.TopDomains)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/websites?limit=-1", &got))
}

func TestDeviceDetail(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)

	var got struct {
		Device       model.Device         `json:"device"`
		RecentVisits []model.WebsiteVisit `json:"recent_visits"`
		SpeedHistory []model.SpeedSample  `json:"speed_history"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/device?ip=10.0.0.2", &got))
	assert.Equal(t, "nas", got.Device.Hostname)
	assert.Len(t, got.RecentVisits, recentVisits)
	assert.Equal(t, int64(100), got.RecentVisits[0].Timestamp)
	assert.Len(t, got.SpeedHistory, 1)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/device?ip=10.9.9.9", &got))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/device", &got))
}

func TestTrafficDaily(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)

	var got struct {
		Daily []stats.DailyTotal `json:"daily"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/traffic", &got))
	require.Len(t, got.Daily, 1)
	assert.Equal(t, uint64(6), got.Daily[0].Download)
	assert.Equal(t, uint64(4), got.Daily[0].Upload)
}

func TestRefresh(t *testing.T) {
	dash := &fakeDashboard{snap: testSnapshot()}
	_, srv := newTestServer(t, dash, nil)

	resp, err := http.Get(srv.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	dash.refreshErr = poller.ErrDevicesUnavailable
	resp = post(t, srv.URL+"/api/refresh", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	dash.refreshErr = poller.ErrCycleCancelled
	resp = post(t, srv.URL+"/api/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 2, dash.refreshed)
}

func TestDeviceCommands(t *testing.T) {
	dash := &fakeDashboard{snap: testSnapshot()}
	_, srv := newTestServer(t, dash, nil)

	resp := post(t, srv.URL+"/api/device/limit", `{"device_ip":"10.0.0.2","speed_limit_kbps":512}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, srv.URL+"/api/device/block", `{"device_ip":"10.0.0.3","block":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"limit 10.0.0.2 512", "block 10.0.0.3 true"}, dash.commands)

	resp = post(t, srv.URL+"/api/device/block", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dash.cmdErr = fmt.Errorf("%w: bad device ip", poller.ErrInvalidCommand)
	resp = post(t, srv.URL+"/api/device/block", `{"device_ip":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dash.cmdErr = &source.ApplicationError{Source: "advanced", Message: "device not found"}
	resp = post(t, srv.URL+"/api/device/limit", `{"device_ip":"10.0.0.9"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "device not found", body["error"])

	dash.cmdErr = &source.TransportError{Source: "legacy", StatusCode: 500}
	resp = post(t, srv.URL+"/api/device/limit", `{"device_ip":"10.0.0.9"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestReportDownload(t *testing.T) {
	rep := &fakeReporter{body: "%PDF-1.4"}
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, rep)

	resp := post(t, srv.URL+"/api/report", `{"start_date":"2024-01-01","end_date":"2024-01-07","report_type":"traffic","format":"pdf"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="network-report-traffic-2024-01-01-to-2024-01-07.pdf"`, resp.Header.Get("Content-Disposition"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, "traffic", rep.got.ReportType)

	resp = post(t, srv.URL+"/api/report", `{"start_date":"2024-01-07","end_date":"2024-01-01","report_type":"traffic","format":"pdf"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	rep.err = fmt.Errorf("failed to generate report: http status 500")
	resp = post(t, srv.URL+"/api/report", `{"start_date":"2024-01-01","end_date":"2024-01-07","report_type":"traffic","format":"csv"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestReportNotRegisteredWithoutReporter(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)
	resp := post(t, srv.URL+"/api/report", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsMounted(t *testing.T) {
	_, srv := newTestServer(t, &fakeDashboard{snap: testSnapshot()}, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "metrics", string(body))
}

func TestWebsocketPush(t *testing.T) {
	dash := &fakeDashboard{snap: testSnapshot()}
	s, srv := newTestServer(t, dash, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	var first statsResponse
	require.NoError(t, websocket.JSON.Receive(ws, &first))
	assert.Equal(t, "c1", first.CycleID)
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	next := testSnapshot()
	next.CycleID = "c2"
	s.Publish(poller.Update{Snapshot: next, Summary: stats.Compute(next)})

	var pushed statsResponse
	require.NoError(t, websocket.JSON.Receive(ws, &pushed))
	assert.Equal(t, "c2", pushed.CycleID)

	ws.Close()
	require.Eventually(t, func() bool { return s.hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/poller"
	"github.com/kisy/netdash/pkg/report"
	"github.com/kisy/netdash/pkg/source"
	"github.com/kisy/netdash/pkg/stats"
)

// recentVisits is how many visits the device detail view shows.
const recentVisits = 10

// Dashboard is the controller surface the HTTP API needs.
type Dashboard interface {
	Snapshot() *model.Snapshot
	Refresh(ctx context.Context) (*model.Snapshot, error)
	SetSpeedLimit(ctx context.Context, ip string, kbps int64) error
	BlockDevice(ctx context.Context, ip string, block bool) error
}

// Reporter produces report downloads.
type Reporter interface {
	Download(ctx context.Context, req report.Request, w io.Writer) (int64, string, error)
}

type Server struct {
	logger  *slog.Logger
	dash    Dashboard
	reports Reporter
	metrics http.Handler
	hub     *Hub
}

// NewServer wires the API over dash. reports and metrics may be nil, in which
// case their endpoints are not registered.
func NewServer(logger *slog.Logger, dash Dashboard, reports Reporter, metrics http.Handler) *Server {
	return &Server{
		logger:  logger,
		dash:    dash,
		reports: reports,
		metrics: metrics,
		hub:     NewHub(logger),
	}
}

// Publish pushes a completed cycle to websocket clients. It is meant to be
// passed to poller.Controller.Subscribe.
func (s *Server) Publish(u poller.Update) {
	s.hub.Broadcast(newStatsResponse(u.Snapshot, u.Summary))
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		snap := s.dash.Snapshot()
		writeJSON(w, http.StatusOK, newStatsResponse(snap, stats.Compute(snap)))
	})

	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		snap := s.dash.Snapshot()
		devices := snap.Devices
		if r.URL.Query().Get("sort") == "speed" {
			devices = stats.DevicesBySpeed(devices)
		}
		writeJSON(w, http.StatusOK, struct {
			Devices  []model.Device `json:"devices"`
			Fallback bool           `json:"fallback"`
		}{devices, snap.SectionFallback(model.SectionDevices)})
	})

	mux.HandleFunc("/api/websites", func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		snap := s.dash.Snapshot()
		visits := snap.Visits
		if ip := strings.TrimSpace(r.URL.Query().Get("ip")); ip != "" {
			visits = snap.VisitsFor(ip, 0)
		}
		// top_domains follows the ip filter but not the row limit.
		top := stats.TopDomains(visits, 10)
		if limit > 0 && len(visits) > limit {
			visits = visits[:limit]
		}
		writeJSON(w, http.StatusOK, struct {
			Websites   []model.WebsiteVisit `json:"websites"`
			TopDomains []stats.DomainCount  `json:"top_domains"`
			Fallback   bool                 `json:"fallback"`
		}{visits, top, snap.SectionFallback(model.SectionVisits)})
	})

	mux.HandleFunc("/api/device", func(w http.ResponseWriter, r *http.Request) {
		ip := strings.TrimSpace(r.URL.Query().Get("ip"))
		if ip == "" {
			http.Error(w, "Missing ip parameter", http.StatusBadRequest)
			return
		}
		snap := s.dash.Snapshot()
		d, ok := snap.Device(ip)
		if !ok {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Device       model.Device         `json:"device"`
			RecentVisits []model.WebsiteVisit `json:"recent_visits"`
			SpeedHistory []model.SpeedSample  `json:"speed_history"`
		}{d, snap.VisitsFor(ip, recentVisits), snap.SpeedHistory[ip]})
	})

	mux.HandleFunc("/api/speed_history", func(w http.ResponseWriter, r *http.Request) {
		snap := s.dash.Snapshot()
		history := snap.SpeedHistory
		if ip := strings.TrimSpace(r.URL.Query().Get("ip")); ip != "" {
			history = model.SpeedHistory{ip: snap.SpeedHistory[ip]}
		}
		writeJSON(w, http.StatusOK, struct {
			SpeedHistory model.SpeedHistory `json:"speed_history"`
			Fallback     bool               `json:"fallback"`
		}{history, snap.SectionFallback(model.SectionSpeedHistory)})
	})

	mux.HandleFunc("/api/traffic", func(w http.ResponseWriter, r *http.Request) {
		snap := s.dash.Snapshot()
		writeJSON(w, http.StatusOK, struct {
			Traffic  []model.TrafficRecord `json:"traffic"`
			Daily    []stats.DailyTotal    `json:"daily"`
			Fallback bool                  `json:"fallback"`
		}{snap.Traffic, stats.DailyTraffic(snap.Traffic), snap.SectionFallback(model.SectionTraffic)})
	})

	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := s.dash.Refresh(r.Context())
		if errors.Is(err, poller.ErrCycleCancelled) {
			http.Error(w, "refresh superseded", http.StatusServiceUnavailable)
			return
		}
		// ErrDevicesUnavailable still carries a demo-filled snapshot; the
		// fallback flag in the body tells the client.
		writeJSON(w, http.StatusOK, newStatsResponse(snap, stats.Compute(snap)))
	})

	mux.HandleFunc("/api/device/limit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			DeviceIP       string `json:"device_ip"`
			SpeedLimitKbps int64  `json:"speed_limit_kbps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.logger.Info("API: set speed limit", "ip", req.DeviceIP, "kbps", req.SpeedLimitKbps)
		s.commandResult(w, s.dash.SetSpeedLimit(r.Context(), req.DeviceIP, req.SpeedLimitKbps))
	})

	mux.HandleFunc("/api/device/block", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			DeviceIP string `json:"device_ip"`
			Block    bool   `json:"block"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.logger.Info("API: block device", "ip", req.DeviceIP, "block", req.Block)
		s.commandResult(w, s.dash.BlockDevice(r.Context(), req.DeviceIP, req.Block))
	})

	if s.reports != nil {
		mux.HandleFunc("/api/report", s.handleReport)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.Handle("/ws", s.hub.Handler(func() any {
		snap := s.dash.Snapshot()
		return newStatsResponse(snap, stats.Compute(snap))
	}))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req report.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	_, contentType, err := s.reports.Download(r.Context(), req, &buf)
	if err != nil {
		s.logger.Error("report download failed", "type", req.ReportType, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+req.Filename()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) commandResult(w http.ResponseWriter, err error) {
	var appErr *source.ApplicationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, poller.ErrInvalidCommand):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case errors.As(err, &appErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": appErr.Message})
	default:
		s.logger.Warn("device command failed on every source", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
	}
}

// statsResponse is the body of /api/stats, /api/refresh and every
// websocket push.
type statsResponse struct {
	CycleID           string                                 `json:"cycle_id"`
	UpdatedAt         time.Time                              `json:"updated_at"`
	UsingFallbackData bool                                   `json:"using_fallback_data"`
	Provenance        map[model.SectionName]model.Provenance `json:"provenance"`
	Summary           stats.Summary                          `json:"summary"`
	Display           summaryDisplay                         `json:"display"`
}

type summaryDisplay struct {
	TotalSpeed string `json:"total_speed"`
	SpeedIn    string `json:"speed_in"`
	SpeedOut   string `json:"speed_out"`
	BytesIn    string `json:"bytes_in"`
	BytesOut   string `json:"bytes_out"`
}

func newStatsResponse(snap *model.Snapshot, sum stats.Summary) statsResponse {
	return statsResponse{
		CycleID:           snap.CycleID,
		UpdatedAt:         snap.CompletedAt,
		UsingFallbackData: snap.UsingFallbackData(),
		Provenance:        snap.Provenance,
		Summary:           sum,
		Display: summaryDisplay{
			TotalSpeed: stats.FormatSpeed(sum.TotalSpeedMbps()),
			SpeedIn:    stats.FormatSpeed(sum.SpeedInMbps),
			SpeedOut:   stats.FormatSpeed(sum.SpeedOutMbps),
			BytesIn:    stats.FormatBytes(sum.BytesIn),
			BytesOut:   stats.FormatBytes(sum.BytesOut),
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + " parameter")
	}
	return n, nil
}

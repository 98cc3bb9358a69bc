package model

import "time"

// Device is one host seen on the LAN. IP is the key within a snapshot.
type Device struct {
	IP             string  `json:"ip"`
	Hostname       string  `json:"hostname"`
	MAC            string  `json:"mac"`
	LastSeen       int64   `json:"last_seen"`
	Active         bool    `json:"is_active"`
	Blocked        bool    `json:"is_blocked"`
	SpeedLimitKbps int64   `json:"speed_limit_kbps"` // 0 = unlimited
	SpeedInMbps    float64 `json:"speed_in_mbps"`
	SpeedOutMbps   float64 `json:"speed_out_mbps"`
	BytesIn        uint64  `json:"bytes_in"`
	BytesOut       uint64  `json:"bytes_out"`
}

// DisplayName returns the hostname, or a placeholder when the backend did not resolve one.
func (d Device) DisplayName() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return "Unknown Device"
}

// WebsiteVisit is a DNS/HTTP observation attributed to a device.
type WebsiteVisit struct {
	DeviceIP      string `json:"device_ip"`
	Domain        string `json:"domain"`
	Timestamp     int64  `json:"timestamp"`
	Protocol      string `json:"protocol"`
	Port          int    `json:"port"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

type SpeedSample struct {
	Timestamp int64   `json:"timestamp"`
	SpeedIn   float64 `json:"speed_in"`
	SpeedOut  float64 `json:"speed_out"`
}

// SpeedHistory maps device IP to samples in ascending timestamp order.
type SpeedHistory map[string][]SpeedSample

// TrafficRecord is one row of the get_traffic series.
type TrafficRecord struct {
	IP            string `json:"ip"`
	Timestamp     int64  `json:"timestamp"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

// SectionName identifies one independently fetched part of a snapshot.
type SectionName string

const (
	SectionDevices      SectionName = "devices"
	SectionVisits       SectionName = "websites"
	SectionSpeedHistory SectionName = "speed_history"
	SectionTraffic      SectionName = "traffic"
)

// Sections lists every section in display order.
var Sections = []SectionName{SectionDevices, SectionVisits, SectionSpeedHistory, SectionTraffic}

// SourceDemo is the provenance recorded for synthetic sections.
const SourceDemo = "demo"

// Provenance records where a section's data came from.
type Provenance struct {
	Source   string    `json:"source"`
	Fallback bool      `json:"fallback"`
	Error    string    `json:"error,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Snapshot is the complete view published after each refresh cycle. It is
// never mutated after publication.
type Snapshot struct {
	CycleID      string                     `json:"cycle_id"`
	StartedAt    time.Time                  `json:"started_at"`
	CompletedAt  time.Time                  `json:"completed_at"`
	Devices      []Device                   `json:"devices"`
	Visits       []WebsiteVisit             `json:"websites"`
	SpeedHistory SpeedHistory               `json:"speed_history"`
	Traffic      []TrafficRecord            `json:"traffic"`
	Provenance   map[SectionName]Provenance `json:"provenance"`
}

// NewSnapshot returns the empty snapshot held before the first cycle completes.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Devices:      []Device{},
		Visits:       []WebsiteVisit{},
		SpeedHistory: SpeedHistory{},
		Traffic:      []TrafficRecord{},
		Provenance:   map[SectionName]Provenance{},
	}
}

// UsingFallbackData reports whether any section holds synthetic data.
func (s *Snapshot) UsingFallbackData() bool {
	for _, p := range s.Provenance {
		if p.Fallback {
			return true
		}
	}
	return false
}

// SectionFallback reports whether the named section is synthetic.
func (s *Snapshot) SectionFallback(name SectionName) bool {
	return s.Provenance[name].Fallback
}

// Device looks up a device by IP.
func (s *Snapshot) Device(ip string) (Device, bool) {
	for _, d := range s.Devices {
		if d.IP == ip {
			return d, true
		}
	}
	return Device{}, false
}

// VisitsFor returns up to limit most recent visits by ip. limit <= 0 means all.
func (s *Snapshot) VisitsFor(ip string, limit int) []WebsiteVisit {
	out := []WebsiteVisit{}
	for _, v := range s.Visits {
		if v.DeviceIP != ip {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

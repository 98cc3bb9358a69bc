package stats

import (
	"sort"
	"time"

	"github.com/kisy/netdash/pkg/model"
)

// Summary holds the dashboard headline numbers for one snapshot.
type Summary struct {
	ActiveDevices  int     `json:"active_devices"`
	BlockedDevices int     `json:"blocked_devices"`
	SpeedInMbps    float64 `json:"speed_in_mbps"`
	SpeedOutMbps   float64 `json:"speed_out_mbps"`
	BytesIn        uint64  `json:"bytes_in"`
	BytesOut       uint64  `json:"bytes_out"`
	UniqueWebsites int     `json:"unique_websites"`
}

// TotalSpeedMbps is the combined in+out rate.
func (s Summary) TotalSpeedMbps() float64 {
	return s.SpeedInMbps + s.SpeedOutMbps
}

// Compute derives the summary from s. It holds no state between calls.
func Compute(s *model.Snapshot) Summary {
	var sum Summary
	if s == nil {
		return sum
	}
	for _, d := range s.Devices {
		if d.Active && !d.Blocked {
			sum.ActiveDevices++
		}
		if d.Blocked {
			sum.BlockedDevices++
		}
		sum.SpeedInMbps += d.SpeedInMbps
		sum.SpeedOutMbps += d.SpeedOutMbps
		sum.BytesIn += d.BytesIn
		sum.BytesOut += d.BytesOut
	}
	sum.UniqueWebsites = UniqueDomains(s.Visits)
	return sum
}

// UniqueDomains counts distinct domains by exact string match.
func UniqueDomains(visits []model.WebsiteVisit) int {
	seen := make(map[string]struct{}, len(visits))
	for _, v := range visits {
		seen[v.Domain] = struct{}{}
	}
	return len(seen)
}

// DailyTotal is one point of the traffic chart.
type DailyTotal struct {
	Date     string `json:"date"` // YYYY-MM-DD, UTC
	Download uint64 `json:"download"`
	Upload   uint64 `json:"upload"`
}

// DailyTraffic buckets records by UTC day, oldest day first.
func DailyTraffic(records []model.TrafficRecord) []DailyTotal {
	byDay := make(map[string]*DailyTotal)
	for _, r := range records {
		day := time.Unix(r.Timestamp, 0).UTC().Format(time.DateOnly)
		t, ok := byDay[day]
		if !ok {
			t = &DailyTotal{Date: day}
			byDay[day] = t
		}
		t.Download += r.BytesReceived
		t.Upload += r.BytesSent
	}

	out := make([]DailyTotal, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}

// DomainCount is a domain and how many visits it received.
type DomainCount struct {
	Domain string `json:"domain"`
	Visits int    `json:"visits"`
}

// TopDomains returns the n most visited domains, ties broken alphabetically.
func TopDomains(visits []model.WebsiteVisit, n int) []DomainCount {
	counts := make(map[string]int)
	for _, v := range visits {
		counts[v.Domain]++
	}
	out := make([]DomainCount, 0, len(counts))
	for d, c := range counts {
		out = append(out, DomainCount{Domain: d, Visits: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Domain < out[j].Domain
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// DevicesBySpeed returns a copy of devices ordered by download speed, fastest
// first, the way the client list is sorted.
func DevicesBySpeed(devices []model.Device) []model.Device {
	out := append([]model.Device(nil), devices...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SpeedInMbps > out[j].SpeedInMbps
	})
	return out
}

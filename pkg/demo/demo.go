// Package demo fabricates plausible dashboard data for sections whose every
// real source failed. Values are random but stay inside fixed bounds.
package demo

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kisy/netdash/pkg/model"
)

const (
	MaxSpeedInMbps  = 10.0
	MaxSpeedOutMbps = 5.0
	MaxBytes        = 5_000_000_000

	VisitCount    = 50
	SampleCount   = 20
	SampleSpacing = time.Minute
	VisitWindow   = time.Hour
	HTTPSShare    = 0.3
)

// Domains is the catalog synthetic visits are drawn from.
var Domains = []string{
	"google.com", "youtube.com", "facebook.com", "github.com",
	"stackoverflow.com", "netflix.com", "amazon.com", "twitter.com",
}

type demoDevice struct {
	ip, mac, hostname string
	idle              time.Duration
	limitKbps         int64
}

var catalog = []demoDevice{
	{"192.168.1.1", "00:11:22:33:44:55", "Router", 0, 0},
	{"192.168.1.100", "00:11:22:33:44:56", "Laptop", 30 * time.Second, 0},
	{"192.168.1.101", "00:11:22:33:44:57", "Gaming-Console", 2 * time.Minute, 50000},
	{"192.168.1.102", "00:11:22:33:44:58", "Phone", 5 * time.Minute, 0},
}

// IPs returns the addresses of the synthetic devices.
func IPs() []string {
	out := make([]string, len(catalog))
	for i, d := range catalog {
		out[i] = d.ip
	}
	return out
}

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) float() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

func (g *Generator) uint64n(n uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint64(g.rnd.Int63n(int64(n)))
}

func (g *Generator) Devices(now time.Time) []model.Device {
	out := make([]model.Device, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, model.Device{
			IP:             c.ip,
			Hostname:       c.hostname,
			MAC:            c.mac,
			LastSeen:       now.Add(-c.idle).Unix(),
			Active:         true,
			SpeedLimitKbps: c.limitKbps,
			SpeedInMbps:    g.float() * MaxSpeedInMbps,
			SpeedOutMbps:   g.float() * MaxSpeedOutMbps,
			BytesIn:        g.uint64n(MaxBytes + 1),
			BytesOut:       g.uint64n(MaxBytes + 1),
		})
	}
	return out
}

// Visits returns VisitCount visits from the last hour, most recent first.
// Port and protocol are drawn together: 70% 80/HTTP, 30% 443/HTTPS.
func (g *Generator) Visits(now time.Time) []model.WebsiteVisit {
	ips := IPs()
	out := make([]model.WebsiteVisit, 0, VisitCount)
	for i := 0; i < VisitCount; i++ {
		v := model.WebsiteVisit{
			DeviceIP:  ips[g.intn(len(ips))],
			Domain:    Domains[g.intn(len(Domains))],
			Timestamp: now.Add(-time.Duration(g.intn(int(VisitWindow/time.Second))) * time.Second).Unix(),
			Protocol:  "HTTP",
			Port:      80,
		}
		if g.float() < HTTPSShare {
			v.Protocol = "HTTPS"
			v.Port = 443
		}
		out = append(out, v)
	}
	sortDescending(out)
	return out
}

// SpeedHistory returns SampleCount samples per synthetic device, oldest first.
func (g *Generator) SpeedHistory(now time.Time) model.SpeedHistory {
	out := make(model.SpeedHistory, len(catalog))
	for _, c := range catalog {
		samples := make([]model.SpeedSample, SampleCount)
		for i := range samples {
			age := time.Duration(SampleCount-1-i) * SampleSpacing
			samples[i] = model.SpeedSample{
				Timestamp: now.Add(-age).Unix(),
				SpeedIn:   g.float() * MaxSpeedInMbps,
				SpeedOut:  g.float() * MaxSpeedOutMbps,
			}
		}
		out[c.ip] = samples
	}
	return out
}

// Traffic returns one record for today and for each of the previous days,
// oldest first.
func (g *Generator) Traffic(now time.Time, days int) []model.TrafficRecord {
	if days <= 0 {
		days = 1
	}
	ips := IPs()
	out := make([]model.TrafficRecord, 0, days+1)
	for i := days; i >= 0; i-- {
		out = append(out, model.TrafficRecord{
			IP:            ips[g.intn(len(ips))],
			Timestamp:     now.AddDate(0, 0, -i).Unix(),
			BytesSent:     g.uint64n(50 << 20),
			BytesReceived: g.uint64n(200 << 20),
		})
	}
	return out
}

func sortDescending(v []model.WebsiteVisit) {
	sort.SliceStable(v, func(i, j int) bool { return v[i].Timestamp > v[j].Timestamp })
}

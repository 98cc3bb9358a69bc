package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kisy/netdash/pkg/model"
)

// ShapeError reports a payload section that is present but not the expected JSON shape.
type ShapeError struct {
	Section string
	Want    string
	Got     any
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %T", e.Section, e.Want, e.Got)
}

func list(section string, raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &ShapeError{Section: section, Want: "array", Got: raw}
	}
	return items, nil
}

// Devices normalizes a devices array. Entries without an IP are dropped; when
// an IP repeats, the entry with the newest last_seen is kept at the position
// of its first occurrence.
func Devices(raw any) ([]model.Device, error) {
	items, err := list("devices", raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Device, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d, ok := device(record(m))
		if !ok {
			continue
		}
		if i, dup := index[d.IP]; dup {
			if d.LastSeen > out[i].LastSeen {
				out[i] = d
			}
			continue
		}
		index[d.IP] = len(out)
		out = append(out, d)
	}
	return out, nil
}

func device(r record) (model.Device, bool) {
	ip := r.str(devIP)
	if ip == "" {
		return model.Device{}, false
	}
	d := model.Device{
		IP:             ip,
		Hostname:       r.str(devHostname),
		MAC:            strings.ToLower(r.str(devMAC)),
		LastSeen:       r.epoch(devLastSeen),
		Active:         r.boolean(devActive),
		Blocked:        r.boolean(devBlocked),
		SpeedLimitKbps: r.i64(devLimit),
		SpeedInMbps:    r.f64(devSpeedIn),
		SpeedOutMbps:   r.f64(devSpeedOut),
		BytesIn:        r.u64(devBytesIn),
		BytesOut:       r.u64(devBytesOut),
	}
	if d.SpeedLimitKbps < 0 {
		d.SpeedLimitKbps = 0
	}
	if d.SpeedInMbps < 0 {
		d.SpeedInMbps = 0
	}
	if d.SpeedOutMbps < 0 {
		d.SpeedOutMbps = 0
	}
	// The legacy API only reports a combined counter.
	if !r.has(devBytesIn) && !r.has(devBytesOut) {
		d.BytesIn = r.u64(devTotalBytes)
	}
	return d, true
}

// Visits normalizes a websites array into descending timestamp order. Entries
// without a domain are dropped. Protocol and port fill each other in when only
// one is present.
func Visits(raw any) ([]model.WebsiteVisit, error) {
	items, err := list("websites", raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.WebsiteVisit, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := record(m)
		v := model.WebsiteVisit{
			DeviceIP:      r.str(visitIP),
			Domain:        r.str(visitDomain),
			Timestamp:     r.epoch(visitTime),
			Protocol:      strings.ToUpper(r.str(visitProtocol)),
			Port:          int(r.i64(visitPort)),
			BytesSent:     r.u64(visitSent),
			BytesReceived: r.u64(visitReceived),
		}
		if v.Domain == "" {
			continue
		}
		fillProtocol(&v)
		out = append(out, v)
	}
	SortVisits(out)
	return out, nil
}

func fillProtocol(v *model.WebsiteVisit) {
	if v.Port < 0 || v.Port > 65535 {
		v.Port = 0
	}
	switch {
	case v.Protocol == "" && v.Port == 443:
		v.Protocol = "HTTPS"
	case v.Protocol == "":
		v.Protocol = "HTTP"
	}
	if v.Port == 0 {
		if v.Protocol == "HTTPS" {
			v.Port = 443
		} else {
			v.Port = 80
		}
	}
}

// SortVisits orders visits most recent first, keeping source order for ties.
func SortVisits(v []model.WebsiteVisit) {
	sort.SliceStable(v, func(i, j int) bool {
		return v[i].Timestamp > v[j].Timestamp
	})
}

// SpeedHistory normalizes a {ip: [sample...]} object. Samples are returned in
// ascending timestamp order for charting.
func SpeedHistory(raw any) (model.SpeedHistory, error) {
	out := model.SpeedHistory{}
	if raw == nil {
		return out, nil
	}
	byIP, ok := raw.(map[string]any)
	if !ok {
		return nil, &ShapeError{Section: "speed_history", Want: "object", Got: raw}
	}

	for ip, series := range byIP {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		items, err := list("speed_history."+ip, series)
		if err != nil {
			return nil, err
		}
		samples := make([]model.SpeedSample, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r := record(m)
			samples = append(samples, model.SpeedSample{
				Timestamp: r.epoch(sampleTime),
				SpeedIn:   nonNegative(r.f64(sampleIn)),
				SpeedOut:  nonNegative(r.f64(sampleOut)),
			})
		}
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].Timestamp < samples[j].Timestamp
		})
		out[ip] = samples
	}
	return out, nil
}

// Traffic normalizes a traffic array into ascending timestamp order.
func Traffic(raw any) ([]model.TrafficRecord, error) {
	items, err := list("traffic", raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.TrafficRecord, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := record(m)
		out = append(out, model.TrafficRecord{
			IP:            r.str(trafficIP),
			Timestamp:     r.epoch(trafficTime),
			BytesSent:     r.u64(trafficSent),
			BytesReceived: r.u64(trafficReceived),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// ApplyHostnames overrides device display names by IP.
func ApplyHostnames(devices []model.Device, names map[string]string) {
	if len(names) == 0 {
		return
	}
	for i := range devices {
		if name, ok := names[devices[i].IP]; ok && name != "" {
			devices[i].Hostname = name
		}
	}
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

// Package normalize converts the loosely shaped JSON emitted by the different
// CGI backends into the canonical model. Every output field is always set: a
// field missing from the source takes the default listed in its mapping row.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindUint
	kindFloat
	kindBool
	kindEpoch // seconds since epoch; millisecond values and RFC 3339 strings are converted
)

// field is one row of a mapping table: aliases are checked in order, the first
// one that coerces to kind wins, otherwise def is used.
type field struct {
	name    string
	aliases []string
	kind    kind
	def     any
}

var (
	devIP         = field{"ip", []string{"ip", "ip_address", "device_ip", "address"}, kindString, ""}
	devHostname   = field{"hostname", []string{"hostname", "name", "device_name", "host"}, kindString, ""}
	devMAC        = field{"mac", []string{"mac", "mac_address", "hwaddr"}, kindString, ""}
	devLastSeen   = field{"last_seen", []string{"last_seen", "lastSeen", "last_seen_at"}, kindEpoch, int64(0)}
	devActive     = field{"is_active", []string{"is_active", "active", "online", "is_online"}, kindBool, false}
	devBlocked    = field{"is_blocked", []string{"is_blocked", "blocked"}, kindBool, false}
	devLimit      = field{"speed_limit_kbps", []string{"speed_limit_kbps", "speed_limit", "limit_kbps"}, kindInt, int64(0)}
	devSpeedIn    = field{"speed_in_mbps", []string{"speed_in_mbps", "speed_in", "download_mbps"}, kindFloat, float64(0)}
	devSpeedOut   = field{"speed_out_mbps", []string{"speed_out_mbps", "speed_out", "upload_mbps"}, kindFloat, float64(0)}
	devBytesIn    = field{"bytes_in", []string{"bytes_in", "bytes_received", "rx_bytes"}, kindUint, uint64(0)}
	devBytesOut   = field{"bytes_out", []string{"bytes_out", "bytes_sent", "tx_bytes"}, kindUint, uint64(0)}
	devTotalBytes = field{"total_bytes", []string{"total_bytes"}, kindUint, uint64(0)}

	visitIP       = field{"device_ip", []string{"device_ip", "ip", "client_ip"}, kindString, ""}
	visitDomain   = field{"domain", []string{"domain", "website", "url", "host"}, kindString, ""}
	visitTime     = field{"timestamp", []string{"timestamp", "time", "ts"}, kindEpoch, int64(0)}
	visitProtocol = field{"protocol", []string{"protocol", "proto", "scheme"}, kindString, ""}
	visitPort     = field{"port", []string{"port", "dst_port"}, kindInt, int64(0)}
	visitSent     = field{"bytes_sent", []string{"bytes_sent", "bytes_out"}, kindUint, uint64(0)}
	visitReceived = field{"bytes_received", []string{"bytes_received", "bytes_in", "bytes_transferred"}, kindUint, uint64(0)}

	sampleTime = field{"timestamp", []string{"timestamp", "time", "ts"}, kindEpoch, int64(0)}
	sampleIn   = field{"speed_in", []string{"speed_in", "speed_in_mbps", "in"}, kindFloat, float64(0)}
	sampleOut  = field{"speed_out", []string{"speed_out", "speed_out_mbps", "out"}, kindFloat, float64(0)}

	trafficIP       = field{"ip", []string{"ip", "device_ip"}, kindString, ""}
	trafficTime     = field{"timestamp", []string{"timestamp", "time", "ts"}, kindEpoch, int64(0)}
	trafficSent     = field{"bytes_sent", []string{"bytes_sent", "bytes_out", "tx_bytes"}, kindUint, uint64(0)}
	trafficReceived = field{"bytes_received", []string{"bytes_received", "bytes_in", "rx_bytes"}, kindUint, uint64(0)}
)

type record map[string]any

func (r record) get(f field) any {
	for _, alias := range f.aliases {
		raw, ok := r[alias]
		if !ok || raw == nil {
			continue
		}
		if v, ok := coerce(raw, f.kind); ok {
			return v
		}
	}
	return f.def
}

func (r record) has(f field) bool {
	for _, alias := range f.aliases {
		if raw, ok := r[alias]; ok && raw != nil {
			if _, ok := coerce(raw, f.kind); ok {
				return true
			}
		}
	}
	return false
}

func (r record) str(f field) string { return r.get(f).(string) }
func (r record) i64(f field) int64 { return r.get(f).(int64) }
func (r record) u64(f field) uint64 { return r.get(f).(uint64) }
func (r record) f64(f field) float64 { return r.get(f).(float64) }
func (r record) boolean(f field) bool { return r.get(f).(bool) }
func (r record) epoch(f field) int64 { return r.get(f).(int64) }

func coerce(raw any, k kind) (any, bool) {
	switch k {
	case kindString:
		s, ok := toString(raw)
		if !ok || s == "" {
			return nil, false
		}
		return s, true
	case kindInt:
		return toInt(raw)
	case kindUint:
		return toUint(raw)
	case kindFloat:
		f, ok := toFloat(raw)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	case kindBool:
		return toBool(raw)
	case kindEpoch:
		return toEpoch(raw)
	}
	return nil, false
}

func toString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// integerText returns the literal of a JSON number or string, so integers
// can be parsed without a float64 round trip.
func integerText(raw any) (string, bool) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), true
	case string:
		return strings.TrimSpace(v), true
	}
	return "", false
}

func toInt(raw any) (any, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	if s, ok := integerText(raw); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) {
		return nil, false
	}
	return clampInt(f), true
}

// toUint clamps negative values to 0.
func toUint(raw any) (any, bool) {
	switch v := raw.(type) {
	case uint64:
		return v, true
	case int:
		return uint64(max(v, 0)), true
	case int64:
		return uint64(max(v, 0)), true
	}
	if s, ok := integerText(raw); ok {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, true
		}
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) {
		return nil, false
	}
	return clampUint(f), true
}

func clampInt(f float64) int64 {
	switch {
	case f >= 1<<63:
		return math.MaxInt64
	case f <= -(1 << 63):
		return math.MinInt64
	}
	return int64(f)
}

func clampUint(f float64) uint64 {
	switch {
	case f <= 0:
		return 0
	case f >= 1<<64:
		return math.MaxUint64
	}
	return uint64(f)
}

func toBool(raw any) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on", "online":
			return true, true
		case "0", "false", "no", "n", "off", "offline", "":
			return false, true
		}
		return nil, false
	}
	f, ok := toFloat(raw)
	if !ok {
		return nil, false
	}
	return f != 0, true
}

// msThreshold separates second from millisecond epochs (~2001-09 in ms).
const msThreshold = 1e12

func toEpoch(raw any) (any, bool) {
	if s, ok := raw.(string); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return t.Unix(), true
		}
	}
	v, ok := toInt(raw)
	if !ok {
		return nil, false
	}
	n := v.(int64)
	if n < 0 {
		return nil, false
	}
	if n >= msThreshold {
		n /= 1000
	}
	return n, true
}

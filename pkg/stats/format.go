package stats

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders n with 1024-based units and at most two decimals,
// trailing zeros trimmed: 1536 -> "1.5 KB", 1<<30 -> "1 GB".
func FormatBytes(n uint64) string {
	if n == 0 {
		return "0 B"
	}
	i := 0
	for x := n; x >= 1024 && i < len(byteUnits)-1; x /= 1024 {
		i++
	}
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatSpeed renders a rate given in Mbps.
func FormatSpeed(mbps float64) string {
	switch {
	case mbps < 0.001 || math.IsNaN(mbps):
		return "0 bps"
	case mbps < 1:
		return fmt.Sprintf("%d Kbps", int64(math.Round(mbps*1000)))
	default:
		return fmt.Sprintf("%.1f Mbps", mbps)
	}
}

// FormatTime renders an epoch-seconds timestamp; zero means never seen.
func FormatTime(ts int64, loc *time.Location) string {
	if ts == 0 {
		return "Never"
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format(time.DateTime)
}

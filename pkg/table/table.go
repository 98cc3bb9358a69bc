// Package table renders a snapshot for the terminal.
package table

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/stats"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// Summary writes the headline numbers and, when any section is synthetic, a
// line naming those sections.
func Summary(w io.Writer, snap *model.Snapshot, sum stats.Summary) {
	t := newTable(w, []string{"Active", "Blocked", "Speed In", "Speed Out", "Downloaded", "Uploaded", "Websites"})
	t.Append([]string{
		strconv.Itoa(sum.ActiveDevices),
		strconv.Itoa(sum.BlockedDevices),
		stats.FormatSpeed(sum.SpeedInMbps),
		stats.FormatSpeed(sum.SpeedOutMbps),
		stats.FormatBytes(sum.BytesIn),
		stats.FormatBytes(sum.BytesOut),
		strconv.Itoa(sum.UniqueWebsites),
	})
	t.Render()

	var demo []string
	for _, name := range model.Sections {
		if snap.SectionFallback(name) {
			demo = append(demo, string(name))
		}
	}
	if len(demo) > 0 {
		fmt.Fprintf(w, "Using demo data - API connection failed (%v)\n", demo)
	}
}

// Devices writes one row per device, fastest first.
func Devices(w io.Writer, devices []model.Device, loc *time.Location) {
	t := newTable(w, []string{"Name", "IP", "MAC", "Status", "Speed In", "Speed Out", "Downloaded", "Uploaded", "Limit", "Last Seen"})
	for _, d := range stats.DevicesBySpeed(devices) {
		t.Append([]string{
			d.DisplayName(),
			d.IP,
			d.MAC,
			status(d),
			stats.FormatSpeed(d.SpeedInMbps),
			stats.FormatSpeed(d.SpeedOutMbps),
			stats.FormatBytes(d.BytesIn),
			stats.FormatBytes(d.BytesOut),
			limit(d.SpeedLimitKbps),
			stats.FormatTime(d.LastSeen, loc),
		})
	}
	t.Render()
}

// Visits writes up to n visits, most recent first. n <= 0 means all.
func Visits(w io.Writer, visits []model.WebsiteVisit, n int, loc *time.Location) {
	if n > 0 && len(visits) > n {
		visits = visits[:n]
	}
	t := newTable(w, []string{"Time", "Device", "Domain", "Protocol", "Port"})
	for _, v := range visits {
		t.Append([]string{
			stats.FormatTime(v.Timestamp, loc),
			v.DeviceIP,
			v.Domain,
			v.Protocol,
			strconv.Itoa(v.Port),
		})
	}
	t.Render()
}

func status(d model.Device) string {
	switch {
	case d.Blocked:
		return "Blocked"
	case d.Active:
		return "Online"
	default:
		return "Offline"
	}
}

func limit(kbps int64) string {
	if kbps <= 0 {
		return "Unlimited"
	}
	return stats.FormatSpeed(float64(kbps) / 1000)
}

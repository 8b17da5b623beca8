// Package report renders the human-readable state dumps (C8) used by
// the CLI and diagnostics: bridge register decode, port-adjust
// derived timings, per-bus last-seen state, and thermometer readings.
package report

import (
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/physic"

	"onewire.dev/driver/ds248x"
	"onewire.dev/ds18x20"
	"onewire.dev/topology"
)

// Bridges writes each bridge's registers with decoded bit names, and
// for single-channel bridges, the port-adjust derived timings, §4.8
// (a)/(b).
func Bridges(w io.Writer, bridges []*ds248x.Bridge) {
	for i, b := range bridges {
		fmt.Fprintf(w, "bridge %d: kind=%s resets=%d/%d status=%s config=%s\n",
			i, b.Kind, b.ResetOK, b.ResetOK+b.ResetErr, b.Status(), b.ConfigMirror())
		if b.Kind == ds248x.DS2482_100 {
			pa := b.PortAdjustMirror()
			fmt.Fprintf(w, "  port-adjust: rise=%dns strong-pull=%dns weak-pull=%dns recovery=%dns\n",
				pa.RiseTimeNs(b.ConfigMirror().Overdrive()), pa.StrongPullNs(), pa.WeakPullNs(), pa.RecoveryNs())
		}
	}
}

// Buses writes the per-bus last-seen ROM with age and thermometer
// counts, §4.8 (c).
func Buses(w io.Writer, buses []*topology.LogicalBus, now time.Time) {
	for i, b := range buses {
		age := now.Unix() - b.LastSeen
		fmt.Fprintf(w, "bus %d: last=% x age=%ds ds18s20=%d ds18b20=%d\n", i, b.LastROM, age, b.DS18S20Count, b.DS18B20Count)
	}
}

// Thermometers writes raw/°C/alarms/resolution for each thermometer,
// marking the device-level Conf byte as ERROR if it disagrees with
// the cached resolution, §4.8 (d).
func Thermometers(w io.Writer, devices []*ds18x20.Thermometer) {
	for i, t := range devices {
		temp := physic.ZeroCelsius + physic.Temperature(t.Decode()*float64(physic.Celsius))
		confNote := ""
		if t.Family() == ds18x20.Family28 {
			wantConf := t.ConfigByte()
			gotConf := t.Scratchpad[4]
			if wantConf != gotConf {
				confNote = " conf=ERROR"
			}
		}
		fmt.Fprintf(w, "therm %d: rom=% x raw=%#04x temp=%s alarms=[%d,%d] res=%d%s\n",
			i, t.ROM, uint16(t.Scratchpad[1])<<8|uint16(t.Scratchpad[0]), temp,
			int8(t.Scratchpad[3]), int8(t.Scratchpad[2]), t.Resolution+9, confNote)
	}
}

// DumpAll bundles (a)-(d) into one combined status report, matching
// the original firmware's single CLI dump command (original_source
// supplement, §5).
func DumpAll(w io.Writer, bridges []*ds248x.Bridge, buses []*topology.LogicalBus, devices []*ds18x20.Thermometer) {
	fmt.Fprintln(w, "== bridges ==")
	Bridges(w, bridges)
	fmt.Fprintln(w, "== buses ==")
	Buses(w, buses, time.Now())
	fmt.Fprintln(w, "== thermometers ==")
	Thermometers(w, devices)
}

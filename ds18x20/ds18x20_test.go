package ds18x20

import (
	"testing"
	"time"

	"onewire.dev/owerr"
	"onewire.dev/scan"
)

func thermo(family byte, bridge, channel int) *Thermometer {
	return &Thermometer{Device: scan.Device{ROM: [8]byte{family}, Bridge: bridge, Channel: channel}}
}

func TestDecodeDS18B20MaskedResolution(t *testing.T) {
	th := thermo(Family28, 0, 0)
	th.Resolution = 3 // 12-bit, no masking
	th.Scratchpad[0] = 0x91
	th.Scratchpad[1] = 0x01
	got := th.Decode()
	want := float64(0x0191) / 16.0
	if got != want {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestDecodeDS18B20NineBitMask(t *testing.T) {
	th := thermo(Family28, 0, 0)
	th.Resolution = 0 // 9-bit, mask 0xF8
	th.Scratchpad[0] = 0x07 // low 3 bits dropped
	th.Scratchpad[1] = 0x00
	got := th.Decode()
	want := float64(0x0000) / 16.0
	if got != want {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestDecodeDS18S20Refined(t *testing.T) {
	th := thermo(Family10, 0, 0)
	th.Scratchpad[0] = 0x90
	th.Scratchpad[1] = 0x01
	th.Scratchpad[6] = 0x0C // COUNT_REMAIN
	th.Scratchpad[7] = 0x10 // COUNT_PER_C
	got := th.Decode()
	raw := int16(0x01)<<8 | int16(0x90&0xFE)
	tempRead := float64(raw) / 2.0
	want := tempRead - 0.25 + float64(0x10-0x0C)/float64(0x10)
	if got != want {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
}

func TestDecodeDS18S20ZeroCountPerC(t *testing.T) {
	th := thermo(Family10, 0, 0)
	th.Scratchpad[0] = 0x90
	th.Scratchpad[1] = 0x01
	th.Scratchpad[6] = 0
	th.Scratchpad[7] = 0
	got := th.Decode()
	raw := int16(0x01)<<8 | int16(0x90&0xFE)
	want := float64(raw) / 2.0
	if got != want {
		t.Fatalf("Decode with zero COUNT_PER_C = %v, want coarse %v", got, want)
	}
}

func TestSetResolutionIdempotent(t *testing.T) {
	th := thermo(Family28, 0, 0)
	th.Resolution = 3
	changed, err := th.SetResolution(12)
	if err != nil {
		t.Fatalf("SetResolution: %v", err)
	}
	if changed {
		t.Fatalf("expected no change setting an already-active resolution")
	}
	changed, err = th.SetResolution(9)
	if err != nil {
		t.Fatalf("SetResolution: %v", err)
	}
	if !changed {
		t.Fatalf("expected change switching from 12-bit to 9-bit")
	}
	if th.Resolution != 0 {
		t.Fatalf("Resolution = %d, want 0 (9-bit)", th.Resolution)
	}
}

func TestSetResolutionRejectsFamily10(t *testing.T) {
	th := thermo(Family10, 0, 0)
	_, err := th.SetResolution(12)
	if !owerr.Is(err, owerr.InvalidValue) {
		t.Fatalf("err = %v, want InvalidValue", err)
	}
}

func TestSetResolutionRejectsOutOfRange(t *testing.T) {
	th := thermo(Family28, 0, 0)
	_, err := th.SetResolution(13)
	if !owerr.Is(err, owerr.InvalidValue) {
		t.Fatalf("err = %v, want InvalidValue", err)
	}
}

func TestSetAlarmsIdempotent(t *testing.T) {
	th := thermo(Family28, 0, 0)
	changed, err := th.SetAlarms(10, 30)
	if err != nil {
		t.Fatalf("SetAlarms: %v", err)
	}
	if !changed {
		t.Fatalf("expected change on first SetAlarms")
	}
	changed, err = th.SetAlarms(10, 30)
	if err != nil {
		t.Fatalf("SetAlarms: %v", err)
	}
	if changed {
		t.Fatalf("expected no change re-setting identical alarms")
	}
}

func TestSegmentsGroupsByBridgeChannel(t *testing.T) {
	devs := []*Thermometer{
		thermo(Family28, 0, 0),
		thermo(Family28, 0, 0),
		thermo(Family28, 0, 1),
		thermo(Family28, 1, 0),
	}
	segs := segments(devs)
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if len(segs[0].devices) != 2 {
		t.Fatalf("first segment has %d devices, want 2", len(segs[0].devices))
	}
}

func TestConvertDelayFullWhenMixedFamily(t *testing.T) {
	devs := []*Thermometer{thermo(Family28, 0, 0)}
	got := tConvertDelay(devs, false)
	if got != 750*time.Millisecond {
		t.Fatalf("delay = %v, want 750ms", got)
	}
}

func TestConvertDelayResolutionAwareWhenOnlyFamily28(t *testing.T) {
	th := thermo(Family28, 0, 0)
	th.Resolution = 0 // 9-bit
	got := tConvertDelay([]*Thermometer{th}, true)
	want := time.Duration(750.0 / 4.0 * float64(time.Millisecond))
	if got != want {
		t.Fatalf("delay = %v, want %v", got, want)
	}
}

func TestEnforceCadenceClampsAndPropagates(t *testing.T) {
	p := &Pipeline{Devices: []*Thermometer{
		thermo(Family28, 0, 0),
		thermo(Family28, 0, 1),
		thermo(Family28, 0, 2),
	}}
	p.Devices[0].TsnsMs = 5000
	p.Devices[1].TsnsMs = 500 // below floor
	p.Devices[2].TsnsMs = 2000

	p.EnforceCadence()

	if p.Devices[0].TsnsMs != 1000 {
		t.Fatalf("primary TsnsMs = %d, want 1000 (min after flooring)", p.Devices[0].TsnsMs)
	}
	if p.Devices[1].TsnsMs != 0 || p.Devices[2].TsnsMs != 0 {
		t.Fatalf("secondaries TsnsMs = %d,%d, want both 0", p.Devices[1].TsnsMs, p.Devices[2].TsnsMs)
	}
}

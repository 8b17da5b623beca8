package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"onewire.dev/driver/ds248x"
	"onewire.dev/ds18x20"
	"onewire.dev/scan"
	"onewire.dev/topology"
)

func TestBridgesReportsKind(t *testing.T) {
	fake := ds248x.NewFakeBridge(ds248x.DS2482_100)
	b := ds248x.New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	var buf bytes.Buffer
	Bridges(&buf, []*ds248x.Bridge{b})
	if !strings.Contains(buf.String(), "DS2482-100") {
		t.Fatalf("report missing bridge kind: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "port-adjust") {
		t.Fatalf("single-channel report missing port-adjust line: %s", buf.String())
	}
}

func TestBuses(t *testing.T) {
	topo := topology.New([]int{2})
	topo.Bus(0).LastSeen = time.Now().Unix() - 5
	topo.Bus(0).DS18B20Count = 2
	var buf bytes.Buffer
	Buses(&buf, topo.AllBuses(), time.Now())
	if !strings.Contains(buf.String(), "ds18b20=2") {
		t.Fatalf("report missing DS18B20 count: %s", buf.String())
	}
}

func TestThermometersFlagsConfigMismatch(t *testing.T) {
	th := &ds18x20.Thermometer{Device: scan.Device{ROM: [8]byte{ds18x20.Family28}}}
	th.Resolution = 1 // 10-bit
	th.Scratchpad[4] = th.ConfigByte() ^ 0xff // force mismatch

	var buf bytes.Buffer
	Thermometers(&buf, []*ds18x20.Thermometer{th})
	if !strings.Contains(buf.String(), "conf=ERROR") {
		t.Fatalf("expected conf=ERROR marker: %s", buf.String())
	}
}

func TestThermometersNoMismatchNoMarker(t *testing.T) {
	th := &ds18x20.Thermometer{Device: scan.Device{ROM: [8]byte{ds18x20.Family28}}}
	th.Resolution = 2
	th.Scratchpad[4] = th.ConfigByte()

	var buf bytes.Buffer
	Thermometers(&buf, []*ds18x20.Thermometer{th})
	if strings.Contains(buf.String(), "conf=ERROR") {
		t.Fatalf("did not expect conf=ERROR marker: %s", buf.String())
	}
}

func TestDumpAllSections(t *testing.T) {
	var buf bytes.Buffer
	DumpAll(&buf, nil, nil, nil)
	out := buf.String()
	for _, section := range []string{"== bridges ==", "== buses ==", "== thermometers =="} {
		if !strings.Contains(out, section) {
			t.Fatalf("missing section %q in: %s", section, out)
		}
	}
}

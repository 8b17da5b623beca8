package ibutton

import (
	"testing"

	"onewire.dev/driver/ds248x"
	"onewire.dev/onewire"
	"onewire.dev/scan"
	"onewire.dev/topology"
)

func TestDebounceWindow(t *testing.T) {
	var rom [8]byte
	rom[0] = Family
	rom[1] = 0x42

	cases := []struct {
		name            string
		lastROM         [8]byte
		lastRead, now   int64
		window          int64
		wantSuppressed  bool
	}{
		{"first sighting", [8]byte{}, 0, 0, 5, false},
		{"within window", rom, 0, 3, 5, true},
		{"at window edge", rom, 0, 5, 5, true},
		{"past window", rom, 0, 6, 5, false},
		{"different rom", [8]byte{Family, 0x99}, 0, 3, 5, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := debounced(c.lastROM, rom, c.lastRead, c.now, c.window)
			if got != c.wantSuppressed {
				t.Fatalf("debounced = %v, want %v", got, c.wantSuppressed)
			}
		})
	}
}

func romWithCRC(family byte, id [6]byte) [8]byte {
	var r [8]byte
	r[0] = family
	copy(r[1:7], id[:])
	r[7] = onewire.CRC8(r[:7])
	return r
}

// TestSenseDebouncesAcrossCalls exercises the debounce window through
// the real scan stack: a tag seen at t=0 notifies, the same tag
// reseen at t=3s with a 5s window is suppressed, and the tag seen
// again at t=6s (past the window) notifies once more.
func TestSenseDebouncesAcrossCalls(t *testing.T) {
	rom := romWithCRC(Family, [6]byte{1, 2, 3, 4, 5, 6})
	fake := ds248x.NewFakeBridge(ds248x.DS2482_100)
	fake.Devices = [8][][8]byte{0: {rom}}
	bridge := ds248x.New(fake, 0x18)
	if err := bridge.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	topo := topology.New([]int{1})
	scanner := scan.New(topo, scan.Bridges{bridge})
	p := New(scanner)

	clock := int64(0)
	Now = func() int64 { return clock }
	defer func() { Now = func() int64 { return 0 } }()

	clock = 0
	notify, err := p.Sense()
	if err != nil {
		t.Fatalf("Sense at t=0: %v", err)
	}
	if notify != 1 {
		t.Fatalf("notify at t=0 = %#x, want bit 0 set", notify)
	}

	clock = 3
	notify, err = p.Sense()
	if err != nil {
		t.Fatalf("Sense at t=3: %v", err)
	}
	if notify != 0 {
		t.Fatalf("notify at t=3 = %#x, want 0 (debounced)", notify)
	}

	clock = 6
	notify, err = p.Sense()
	if err != nil {
		t.Fatalf("Sense at t=6: %v", err)
	}
	if notify != 1 {
		t.Fatalf("notify at t=6 = %#x, want bit 0 set again", notify)
	}
}

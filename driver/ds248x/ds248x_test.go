package ds248x

import (
	"testing"

	"onewire.dev/owerr"
)

func TestIdentifySingleChannel(t *testing.T) {
	fake := NewFakeBridge(DS2482_100)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if b.Kind != DS2482_100 {
		t.Fatalf("Kind = %v, want DS2482_100", b.Kind)
	}
	if !b.ConfigMirror().ActivePullup() {
		t.Fatalf("expected APU set after DS2482-100 identify")
	}
}

// TestResetReassertsActivePullup exercises the realistic boot path
// (Identify, then a later Reset such as owhub.Hub.Init performs on
// every bridge) and checks APU comes back on both times, not just
// after the first Identify.
func TestResetReassertsActivePullup(t *testing.T) {
	fake := NewFakeBridge(DS2482_800)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !b.ConfigMirror().ActivePullup() {
		t.Fatalf("expected APU set after Identify")
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !b.ConfigMirror().ActivePullup() {
		t.Fatalf("expected APU still set after a later Reset")
	}
}

func TestIdentifyEightChannel(t *testing.T) {
	fake := NewFakeBridge(DS2482_800)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if b.Kind != DS2482_800 {
		t.Fatalf("Kind = %v, want DS2482_800", b.Kind)
	}
	if !b.ConfigMirror().ActivePullup() {
		t.Fatalf("expected APU set after DS2482-800 identify")
	}
}

func TestSelectFailureReleasesLock(t *testing.T) {
	fake := NewFakeBridge(DS2482_800)
	b := New(fake, 0x18)
	b.Lock = LockPerBus
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	// Make Select fail by asking for an out-of-range channel, which
	// selectLocked rejects before touching I2C.
	if err := b.Select(9); err == nil {
		t.Fatalf("expected error selecting channel 9")
	}
	// The mutex must have been released on failure; a further Select
	// must not deadlock.
	if err := b.Select(3); err != nil {
		t.Fatalf("Select(3) after failed Select(9): %v", err)
	}
	b.Release()
}

func TestReadStatusBusyError(t *testing.T) {
	fake := NewFakeBridge(DS2482_100)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	fake.status = statusOWB
	_, err := b.readStatus()
	if !owerr.Is(err, owerr.BridgeBusy) {
		t.Fatalf("err = %v, want BridgeBusy", err)
	}
}

func TestReset1WPresence(t *testing.T) {
	fake := NewFakeBridge(DS2482_100)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	port := &Port{Bridge: b, Channel: 0}
	fake.Presence = true
	presence, err := port.Reset1W(0)
	if err != nil {
		t.Fatalf("Reset1W: %v", err)
	}
	if !presence {
		t.Fatalf("expected presence pulse")
	}
}

func TestReset1WShortedBus(t *testing.T) {
	fake := NewFakeBridge(DS2482_100)
	b := New(fake, 0x18)
	if err := b.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	port := &Port{Bridge: b, Channel: 0}
	fake.Short = true
	if _, err := port.Reset1W(0); err == nil {
		t.Fatalf("expected error on shorted bus")
	}
}

func TestI2CFailureWrapsKind(t *testing.T) {
	fake := NewFakeBridge(DS2482_100)
	b := New(fake, 0x18)
	fake.FailNext = fakeErr("nak")
	_, err := b.waitIdle(0)
	if !owerr.Is(err, owerr.I2CFailure) {
		t.Fatalf("err = %v, want I2CFailure", err)
	}
}

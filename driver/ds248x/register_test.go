package ds248x

import "testing"

func TestStatusDecode(t *testing.T) {
	s := statusOWB | statusPPD | statusRST | statusDIR
	if !s.Busy() || !s.Presence() || !s.WasReset() {
		t.Fatalf("status decode wrong: %s", s)
	}
	if s.Short() || s.Level() || s.SingleBit() || s.TripletBit() {
		t.Fatalf("status decode set unexpected bits: %s", s)
	}
	if s.Direction() != 1 {
		t.Fatalf("direction = %d, want 1", s.Direction())
	}
}

func TestReportStatusNoChange(t *testing.T) {
	if s := reportStatus(statusPPD, statusPPD); s != "" {
		t.Fatalf("expected no diff, got %q", s)
	}
}

func TestReportStatusChange(t *testing.T) {
	if s := reportStatus(0, statusPPD); s == "" {
		t.Fatalf("expected a diff message")
	}
}

func TestConfigWireEncoding(t *testing.T) {
	cfg := configAPU | configSPU
	wire := cfg.wire()
	if wire&0xf != byte(cfg) {
		t.Fatalf("low nibble = %#x, want %#x", wire&0xf, byte(cfg))
	}
	if wire>>4 != byte(^cfg&0xf) {
		t.Fatalf("high nibble = %#x, want inverse", wire>>4)
	}
}

func TestPortAdjustDecode(t *testing.T) {
	pa := PortAdjust{0x0f, 0x0f, 0x0f, 0x0f, 0}
	if got := pa.RiseTimeNs(false); got != riseTimeStandard[0xf] {
		t.Fatalf("rise time = %d, want %d", got, riseTimeStandard[0xf])
	}
	if got := pa.StrongPullNs(); got != strongPullStandard[0xf] {
		t.Fatalf("strong pull = %d, want %d", got, strongPullStandard[0xf])
	}
}

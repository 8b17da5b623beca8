package ds248x

import "fmt"

// Status mirrors the DS2482/DS2483 status register (read pointer
// regStatus). It is pure data: decoding and diffing only, no I/O.
type Status byte

const (
	statusOWB Status = 1 << 0 // 1-Wire busy
	statusPPD Status = 1 << 1 // presence pulse detect
	statusSD  Status = 1 << 2 // short detected
	statusLL  Status = 1 << 3 // logic level
	statusRST Status = 1 << 4 // device reset
	statusSBR Status = 1 << 5 // single bit result
	statusTSB Status = 1 << 6 // triplet second bit
	statusDIR Status = 1 << 7 // branch direction taken
)

func (s Status) Busy() bool      { return s&statusOWB != 0 }
func (s Status) Presence() bool  { return s&statusPPD != 0 }
func (s Status) Short() bool     { return s&statusSD != 0 }
func (s Status) Level() bool     { return s&statusLL != 0 }
func (s Status) WasReset() bool  { return s&statusRST != 0 }
func (s Status) SingleBit() bool { return s&statusSBR != 0 }
func (s Status) TripletBit() bool {
	return s&statusTSB != 0
}
func (s Status) Direction() byte {
	if s&statusDIR != 0 {
		return 1
	}
	return 0
}

func (s Status) String() string {
	return fmt.Sprintf("{1WB=%v PPD=%v SD=%v LL=%v RST=%v SBR=%v TSB=%v DIR=%d}",
		s.Busy(), s.Presence(), s.Short(), s.Level(), s.WasReset(), s.SingleBit(), s.TripletBit(), s.Direction())
}

// reportStatus logs only the bits that changed between prev and cur,
// per §4.1's report_status contract.
func reportStatus(prev, cur Status) string {
	diff := prev ^ cur
	if diff == 0 {
		return ""
	}
	return fmt.Sprintf("status changed: %s -> %s (diff %08b)", prev, cur, byte(diff))
}

// Config mirrors the device configuration register's low nibble.
// The wire encoding writes (^cfg<<4)|cfg; Config stores only cfg.
type Config byte

const (
	configAPU Config = 1 << 0 // active pull-up
	configPDN Config = 1 << 1 // power-down (DS2483 only)
	configSPU Config = 1 << 2 // strong pull-up
	configOWS Config = 1 << 3 // 1-Wire speed (overdrive)
)

func (c Config) ActivePullup() bool  { return c&configAPU != 0 }
func (c Config) PowerDown() bool     { return c&configPDN != 0 }
func (c Config) StrongPullup() bool  { return c&configSPU != 0 }
func (c Config) Overdrive() bool     { return c&configOWS != 0 }
func (c Config) wire() byte          { return byte(^c&0xf)<<4 | byte(c&0xf) }

func (c Config) String() string {
	return fmt.Sprintf("{APU=%v PDN=%v SPU=%v OWS=%v}", c.ActivePullup(), c.PowerDown(), c.StrongPullup(), c.Overdrive())
}

// reportConfig logs only the bits that changed, per §4.1.
func reportConfig(prev, cur Config) string {
	diff := prev ^ cur
	if diff == 0 {
		return ""
	}
	names := []struct {
		bit  Config
		name string
	}{
		{configAPU, "APU"}, {configPDN, "PDN"}, {configSPU, "SPU"}, {configOWS, "OWS"},
	}
	changed := ""
	for _, n := range names {
		if diff&n.bit != 0 {
			changed += n.name + " "
		}
	}
	return fmt.Sprintf("config changed: %s -> %s (%s)", prev, cur, changed)
}

// portAdjustVal is the 4-bit VAL field of a port-adjust parameter
// byte; the high nibble (0..4) selects which of the five timing
// parameters it belongs to.
type portAdjustVal byte

// Port-adjust decode tables, §4.1. Indexed by VAL (0..15), separate
// for standard and overdrive speed. Units are nanoseconds; a value of
// 0 means "reserved/unused" for that VAL.
var (
	riseTimeStandard = [16]int{
		0: 1000, 1: 1000, 2: 1000, 3: 1000,
		4: 950, 5: 900, 6: 850, 7: 800,
		8: 750, 9: 700, 10: 650, 11: 600,
		12: 550, 13: 500, 14: 450, 15: 430,
	}
	riseTimeOverdrive = [16]int{
		0: 150, 1: 150, 2: 150, 3: 150,
		4: 145, 5: 140, 6: 135, 7: 130,
		8: 125, 9: 120, 10: 115, 11: 110,
		12: 105, 13: 100, 14: 95, 15: 85,
	}
	strongPullStandard = [16]int{
		0: 524000, 1: 541000, 2: 558000, 3: 575000,
		4: 592000, 5: 609000, 6: 626000, 7: 643000,
		8: 660000, 9: 677000, 10: 694000, 11: 711000,
		12: 728000, 13: 745000, 14: 762000, 15: 785000,
	}
	weakPullStandard = [16]int{
		0: 1000, 1: 1300, 2: 1700, 3: 2000,
		4: 2400, 5: 2700, 6: 3100, 7: 3400,
		8: 3800, 9: 4100, 10: 4500, 11: 4800,
		12: 5200, 13: 5500, 14: 5900, 15: 6400,
	}
	recoveryStandard = [16]int{
		0: 2750, 1: 5250, 2: 7750, 3: 10250,
		4: 12750, 5: 15250, 6: 17750, 7: 20250,
		8: 22750, 9: 25250, 10: 27750, 11: 30250,
		12: 32750, 13: 35250, 14: 37750, 15: 40250,
	}
)

// PortAdjust mirrors the 5-byte DS2483 port-adjust configuration
// (single-channel variant only).
type PortAdjust [5]byte

// RiseTimeNs decodes the reported 1-Wire rise time.
func (p PortAdjust) RiseTimeNs(overdrive bool) int {
	val := int(p[0] & 0xf)
	if overdrive {
		return riseTimeOverdrive[val]
	}
	return riseTimeStandard[val]
}

// StrongPullNs decodes the reported strong pull-up duration.
func (p PortAdjust) StrongPullNs() int { return strongPullStandard[p[1]&0xf] }

// WeakPullNs decodes the reported passive pull-up resistance timing.
func (p PortAdjust) WeakPullNs() int { return weakPullStandard[p[2]&0xf] }

// RecoveryNs decodes the reported write-0 recovery time.
func (p PortAdjust) RecoveryNs() int { return recoveryStandard[p[3]&0xf] }

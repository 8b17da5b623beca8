// Package ds18x20 implements the thermometer pipeline (C6): scratchpad
// I/O, resolution/alarm configuration, EEPROM commit, the three-phase
// parallel convert scheduler, and temperature decode for DS18S20
// (family 0x10) and DS18B20 (family 0x28) devices.
package ds18x20

import (
	"time"

	"onewire.dev/driver/ds248x"
	"onewire.dev/onewire"
	"onewire.dev/owerr"
	"onewire.dev/scan"
	"onewire.dev/topology"
)

// Family codes this package handles.
const (
	Family10 = 0x10 // DS18S20, fixed 9-bit resolution
	Family28 = 0x28 // DS18B20, selectable 9..12-bit resolution
)

// resMask is indexed by resolution-9 (0=9-bit..3=12-bit), §4.6 decode.
var resMask = [4]byte{0xF8, 0xFC, 0xFE, 0xFF}

// Thermometer is one enumerated DS18S20/DS18B20: its device
// descriptor, 9-byte scratchpad mirror, endpoint slot, and cached
// resolution, §3.
type Thermometer struct {
	scan.Device

	Scratchpad [9]byte // TLSB, TMSB, THi, TLo, cfg/reserved..., CRC
	Resolution int     // 0=9-bit..3=12-bit; always 0 for family 0x10
	Parasitic  bool

	// Endpoint is the published last-converted Celsius value, index
	// matched to this thermometer's position in Pipeline.Devices.
	Endpoint float64

	// TsnsMs is this device's sample period in milliseconds. The
	// cadence contract (§4.6) clamps the primary to min(all
	// secondaries) and clears the secondaries' own period so the
	// scheduler only fires at the primary's rate.
	TsnsMs int
}

// ConfigByte returns the family-0x28 configuration byte (bits 6:5
// hold resolution), or 0 for family 0x10, which has no configuration
// byte.
func (t *Thermometer) ConfigByte() byte {
	if t.Family() != Family28 {
		return 0
	}
	return byte(t.Resolution<<5) | 0x1F
}

// Decode computes the Celsius value from the scratchpad's T-LSB/
// T-MSB pair, §4.6, using the DS18S20 refined decode for family 0x10
// (original_source supplement) and the resolution-masked decode for
// family 0x28.
func (t *Thermometer) Decode() float64 {
	lsb, msb := t.Scratchpad[0], t.Scratchpad[1]
	if t.Family() == Family10 {
		return decodeDS18S20(lsb, msb, t.Scratchpad[6], t.Scratchpad[7])
	}
	mask := resMask[t.Resolution]
	raw := int16(msb)<<8 | int16(lsb&mask)
	return float64(raw) / 16.0
}

// decodeDS18S20 applies the refined count-remain formula the original
// firmware uses instead of the coarse 0.5°C mask decode, when the
// family-dependent COUNT_REMAIN/COUNT_PER_C bytes (scratchpad[6],[7])
// are present — they always are for family 0x10.
func decodeDS18S20(lsb, msb, countRemain, countPerC byte) float64 {
	raw := int16(msb)<<8 | int16(lsb&0xFE)
	tempRead := float64(raw) / 2.0
	if countPerC == 0 {
		return tempRead
	}
	return tempRead - 0.25 + float64(int(countPerC)-int(countRemain))/float64(countPerC)
}

// Pipeline owns the sorted thermometer array and the per-bridge
// scheduling state (one-shot timer handle lives on ds248x.Bridge
// itself, §3).
type Pipeline struct {
	Scan    *scan.Scanner
	Devices []*Thermometer // sorted (bridge, channel, ROM), §3
}

// New builds an empty pipeline over the given scanner.
func New(s *scan.Scanner) *Pipeline {
	return &Pipeline{Scan: s}
}

// Enumerate runs scan for families 0x10 and 0x28, appending newly
// found devices to Devices in (bridge, channel, ROM) order, seeding
// each one's scratchpad and resolution, §4.5/§4.6 Initialize.
func (p *Pipeline) Enumerate() error {
	for _, fam := range [2]byte{Family10, Family28} {
		_, err := p.Scan.Scan(fam, func(dev scan.Device) (int, error) {
			t := &Thermometer{Device: dev}
			if fam == Family28 {
				t.Resolution = 3 // default 12-bit until configured
			}
			if err := p.initialize(t); err != nil {
				// PresenceMissing/CRCMismatch during init: skip this
				// device this cycle rather than fail enumeration.
				if owerr.Is(err, owerr.PresenceMissing) || owerr.Is(err, owerr.CRCMismatch) {
					return 0, nil
				}
				return -1, err
			}
			p.Devices = append(p.Devices, t)
			bus, lerr := p.logicalBus(t.Bridge, t.Channel)
			if lerr == nil {
				if fam == Family10 {
					bus.DS18S20Count++
				} else {
					bus.DS18B20Count++
				}
			}
			return 1, nil
		})
		if err != nil {
			return err
		}
	}
	sortDevices(p.Devices)
	return nil
}

func sortDevices(d []*Thermometer) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && less(d[j], d[j-1]); j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

func less(a, b *Thermometer) bool {
	if a.Bridge != b.Bridge {
		return a.Bridge < b.Bridge
	}
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	for i := range a.ROM {
		if a.ROM[i] != b.ROM[i] {
			return a.ROM[i] < b.ROM[i]
		}
	}
	return false
}

func (p *Pipeline) logicalBus(bridge, channel int) (*topology.LogicalBus, error) {
	logical, err := p.Scan.Topo.P2L(bridge, channel)
	if err != nil {
		return nil, err
	}
	return p.Scan.Topo.Bus(logical), nil
}

func (p *Pipeline) initialize(t *Thermometer) error {
	bus, port, err := p.busFor(t.Bridge, t.Channel)
	if err != nil {
		return err
	}
	if err := port.Select(); err != nil {
		return err
	}
	defer port.Release()

	sp, err := p.readScratchpad(bus, t.ROM, 9)
	if err != nil {
		return err
	}
	copy(t.Scratchpad[:], sp)

	parasitic, err := p.readPowerSupply(bus, t.ROM)
	if err != nil {
		return err
	}
	t.Parasitic = parasitic

	if t.Family() == Family28 {
		t.Resolution = int(t.Scratchpad[4]>>5) & 0x3
	} else {
		t.Resolution = 0
	}
	t.Endpoint = t.Decode()
	return nil
}

func (p *Pipeline) busFor(bridge, channel int) (*onewire.Bus, *ds248x.Port, error) {
	port := &ds248x.Port{Bridge: p.Scan.Bridges[bridge], Channel: channel}
	return onewire.NewBus(port), port, nil
}

// readScratchpad is read_sp(n), §4.6: reset_command(READ_SP), read n
// bytes, verify CRC when n==9, else abort the stream with a fresh
// reset.
func (p *Pipeline) readScratchpad(bus *onewire.Bus, rom [8]byte, n int) ([]byte, error) {
	present, err := bus.ResetCommand(onewire.CmdReadSP, rom, false, false)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}
	buf, err := bus.ReadBlock(n)
	if err != nil {
		return nil, err
	}
	if n == 9 {
		if !onewire.CheckCRC(buf) {
			return nil, owerr.New(owerr.CRCMismatch, "ds18x20", nil)
		}
	} else {
		bus.T.Reset1W(0)
	}
	return buf, nil
}

// writeScratchpad is write_sp(), §4.6: writes Thi, Tlo, and (family
// 0x28 only) Config. Scratchpad only; not persisted until Recall's
// counterpart copy_sp runs.
func (p *Pipeline) writeScratchpad(bus *onewire.Bus, t *Thermometer, lo, hi int8) error {
	present, err := bus.ResetCommand(onewire.CmdWriteSP, t.ROM, false, false)
	if err != nil {
		return err
	}
	if !present {
		return owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}
	payload := []byte{byte(hi), byte(lo)}
	if t.Family() == Family28 {
		payload = append(payload, t.ConfigByte())
	}
	return bus.WriteBlock(payload)
}

// copyScratchpad is copy_sp(), §4.6: commits the scratchpad's Thi/
// Tlo/Config to EEPROM with strong pull-up, waits the published
// ≥11ms copy delay, then drops pull-up.
func (p *Pipeline) copyScratchpad(bus *onewire.Bus, rom [8]byte) error {
	present, err := bus.ResetCommand(onewire.CmdCopySP, rom, false, true)
	if err != nil {
		return err
	}
	if !present {
		return owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}
	time.Sleep(copyDelay)
	return bus.SetLevel(false)
}

// Recall restores the EEPROM-resident alarm/resolution bytes into the
// scratchpad (command 0xB8), the original_source supplement for the
// simulated power-cycle scenario (§8 scenario 3). No test calls it.
func (p *Pipeline) Recall(t *Thermometer) error {
	bus, port, err := p.busFor(t.Bridge, t.Channel)
	if err != nil {
		return err
	}
	if err := port.Select(); err != nil {
		return err
	}
	defer port.Release()

	present, err := bus.ResetCommand(onewire.CmdRecallE2, t.ROM, false, false)
	if err != nil {
		return err
	}
	if !present {
		return owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}
	sp, err := p.readScratchpad(bus, t.ROM, 9)
	if err != nil {
		return err
	}
	copy(t.Scratchpad[:], sp)
	return nil
}

func (p *Pipeline) readPowerSupply(bus *onewire.Bus, rom [8]byte) (parasitic bool, err error) {
	present, err := bus.ResetCommand(onewire.CmdReadPSU, rom, false, false)
	if err != nil {
		return false, err
	}
	if !present {
		return false, owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}
	bit, err := bus.T.TouchBit(1, 0)
	if err != nil {
		return false, err
	}
	return bit == 0, nil // 0 = parasitic power, 1 = externally powered
}

const copyDelay = 11 * time.Millisecond

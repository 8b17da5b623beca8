// Package onewire implements the 1-Wire link layer: reset/presence,
// bit/byte/block transport, full ROM-search (Maxim AN187), CRC-8, and
// addressing/speed/power control. It is generic over the Transport
// trait so it drives a DS2482-100, a DS2482-800 channel, or any other
// bridge that implements the same primitives (§9, design notes).
package onewire

import (
	"time"

	"onewire.dev/owerr"
)

// Transport is the set of bridge primitives the link layer is built
// on. driver/ds248x.Port satisfies this structurally, without either
// package importing the other.
type Transport interface {
	Select() error
	Release()
	Reset1W(delay time.Duration) (presence bool, err error)
	TouchBit(bit byte, delay time.Duration) (byte, error)
	WriteByte(b byte, delay time.Duration, strongPullup bool) error
	ReadByte(delay time.Duration) (byte, error)
	Triplet(dir byte, delay time.Duration) (sbr, tsb, taken byte, err error)
	SetSpeed(overdrive bool) error
	SetLevel(strong bool) error
}

// Per-primitive delays, §4.3, standard speed in microseconds. No
// overdrive delays are defined: the link layer passes these
// standard-speed values even after SetSpeed(true).
const (
	delayReset    = 1244 * time.Microsecond
	delayReadByte = 583 * time.Microsecond
	delayWriteByte = 583 * time.Microsecond
	delayTriplet  = 219 * time.Microsecond
	delayBit      = 73 * time.Microsecond
)

// ROM command bytes, §6.
const (
	CmdSkipROM     = 0xCC
	CmdMatchROM    = 0x55
	CmdReadROM     = 0x33
	CmdSearchROM   = 0xF0
	CmdAlarmSearch = 0xEC
	CmdConvertT    = 0x44
	CmdWriteSP     = 0x4E
	CmdReadSP      = 0xBE
	CmdCopySP      = 0x48
	CmdRecallE2    = 0xB8
	CmdReadPSU     = 0xB4
)

// Bus pairs a Transport with the link-layer state needed to drive it:
// the current ROM-search iterator state.
type Bus struct {
	T Transport

	rom                    [8]byte
	lastDiscrepancy        int
	lastFamilyDiscrepancy  int
	lastDeviceFlag         bool
}

// NewBus wraps a Transport as a link-layer bus with fresh search
// state.
func NewBus(t Transport) *Bus {
	return &Bus{T: t}
}

// ROM returns the iterator's current 8-byte address.
func (b *Bus) ROM() [8]byte { return b.rom }

// ResetSearch resets the search iterator, §4.3 step 6/target_setup.
func (b *Bus) ResetSearch() {
	b.lastDiscrepancy = 0
	b.lastFamilyDiscrepancy = 0
	b.lastDeviceFlag = false
	b.rom = [8]byte{}
}

// TargetSetup seeds the iterator to search only the given family,
// §4.4 target_setup.
func (b *Bus) TargetSetup(family byte) {
	b.rom = [8]byte{}
	b.rom[0] = family
	b.lastDiscrepancy = 64
	b.lastFamilyDiscrepancy = 0
	b.lastDeviceFlag = false
}

// FamilySkip collapses the iterator to the last family discrepancy so
// the next search moves past the remaining members of the current
// family, §4.4 family_skip.
func (b *Bus) FamilySkip() {
	b.lastDiscrepancy = b.lastFamilyDiscrepancy
	b.lastFamilyDiscrepancy = 0
	b.lastDeviceFlag = false
	if b.lastDiscrepancy == 0 {
		b.lastDeviceFlag = true
	}
}

// First restarts the search from scratch and returns the first ROM
// found, if any.
func (b *Bus) First() (found bool, err error) {
	b.ResetSearch()
	return b.Search(CmdSearchROM)
}

// Next continues the search from the current iterator state.
func (b *Bus) Next() (found bool, err error) {
	return b.Search(CmdSearchROM)
}

// Verify re-searches with the current ROM pinned as the discrepancy
// path and reports whether the same device still answers, §4.4
// verify.
func (b *Bus) Verify() (found bool, err error) {
	saveROM := b.rom
	saveLast := b.lastDiscrepancy
	saveFlag := b.lastDeviceFlag
	b.lastDiscrepancy = 65
	b.lastDeviceFlag = false
	found, err = b.Search(CmdSearchROM)
	if err != nil {
		return false, err
	}
	same := found && b.rom == saveROM
	b.rom = saveROM
	b.lastDiscrepancy = saveLast
	b.lastDeviceFlag = saveFlag
	return same, nil
}

// Search is the AN187 one-wire search algorithm, §4.3. cmd selects
// CmdSearchROM or CmdAlarmSearch.
func (b *Bus) Search(cmd byte) (found bool, err error) {
	if b.lastDeviceFlag {
		b.ResetSearch()
		return false, nil
	}
	presence, err := b.T.Reset1W(delayReset)
	if err != nil {
		return false, err
	}
	if !presence {
		b.ResetSearch()
		return false, nil
	}
	if err := b.T.WriteByte(cmd, delayWriteByte, false); err != nil {
		return false, err
	}

	lastZero := 0
	var crc byte
	for bitNum := 1; bitNum <= 64; bitNum++ {
		byteIdx := (bitNum - 1) / 8
		bitIdx := uint((bitNum - 1) % 8)
		romBit := (b.rom[byteIdx] >> bitIdx) & 1

		var dir byte
		switch {
		case bitNum < b.lastDiscrepancy:
			dir = romBit
		case bitNum == b.lastDiscrepancy:
			dir = 1
		default:
			dir = 0
		}

		sbr, tsb, taken, err := b.T.Triplet(dir, delayTriplet)
		if err != nil {
			b.ResetSearch()
			return false, err
		}
		if sbr == 1 && tsb == 1 {
			// No devices responded at all.
			b.ResetSearch()
			return false, nil
		}
		if sbr == 0 && tsb == 0 && taken == 0 {
			lastZero = bitNum
			if bitNum <= 8 {
				b.lastFamilyDiscrepancy = bitNum
			}
		}
		if taken != 0 {
			b.rom[byteIdx] |= 1 << bitIdx
		} else {
			b.rom[byteIdx] &^= 1 << bitIdx
		}
		crc = crc8Step(crc, taken)
	}

	if crc != 0 || b.rom[0] == 0 {
		b.ResetSearch()
		return false, owerr.New(owerr.CRCMismatch, "onewire", nil)
	}

	b.lastDiscrepancy = lastZero
	if b.lastDiscrepancy == 0 {
		b.lastDeviceFlag = true
	}
	return true, nil
}

// Address issues skip-ROM or match-ROM (plus the 8 ROM bytes for
// match), §4.4.
func (b *Bus) Address(skip bool) error {
	if skip {
		return b.T.WriteByte(CmdSkipROM, delayWriteByte, false)
	}
	if err := b.T.WriteByte(CmdMatchROM, delayWriteByte, false); err != nil {
		return err
	}
	for _, v := range b.rom {
		if err := b.T.WriteByte(v, delayWriteByte, false); err != nil {
			return err
		}
	}
	return nil
}

// AddressROM is Address but against an explicit ROM rather than the
// iterator's current one.
func (b *Bus) AddressROM(rom [8]byte, skip bool) error {
	if skip {
		return b.T.WriteByte(CmdSkipROM, delayWriteByte, false)
	}
	if err := b.T.WriteByte(CmdMatchROM, delayWriteByte, false); err != nil {
		return err
	}
	for _, v := range rom {
		if err := b.T.WriteByte(v, delayWriteByte, false); err != nil {
			return err
		}
	}
	return nil
}

// ResetCommand is the canonical sequence: reset, presence check,
// address, optional strong pull-up, command byte, §4.4 reset_command.
// present reports whether the bus answered the reset.
func (b *Bus) ResetCommand(cmd byte, rom [8]byte, skip bool, strongPullup bool) (present bool, err error) {
	presence, err := b.T.Reset1W(delayReset)
	if err != nil {
		return false, err
	}
	if !presence {
		return false, nil
	}
	if err := b.AddressROM(rom, skip); err != nil {
		return false, err
	}
	if strongPullup {
		if err := b.T.SetLevel(true); err != nil {
			return false, err
		}
	}
	if err := b.T.WriteByte(cmd, delayWriteByte, strongPullup); err != nil {
		return false, err
	}
	return true, nil
}

// ReadBlock reads n bytes byte-wise; there is no hardware block
// command, §4.2.
func (b *Bus) ReadBlock(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		v, err := b.T.ReadByte(delayReadByte)
		if err != nil {
			return nil, err
		}
		buf[i] = v
	}
	return buf, nil
}

// WriteBlock writes buf byte-wise.
func (b *Bus) WriteBlock(buf []byte) error {
	for _, v := range buf {
		if err := b.T.WriteByte(v, delayWriteByte, false); err != nil {
			return err
		}
	}
	return nil
}

// ReadROM issues the single-device fast path (command 0x33): skips
// the search algorithm entirely and reads the 8 ROM bytes directly.
// Only valid when the bus is known to carry exactly one device; two
// or more devices garble the read via bus contention.
func (b *Bus) ReadROM() (rom [8]byte, err error) {
	presence, err := b.T.Reset1W(delayReset)
	if err != nil {
		return rom, err
	}
	if !presence {
		return rom, owerr.New(owerr.PresenceMissing, "onewire", nil)
	}
	if err := b.T.WriteByte(CmdReadROM, delayWriteByte, false); err != nil {
		return rom, err
	}
	buf, err := b.ReadBlock(8)
	if err != nil {
		return rom, err
	}
	copy(rom[:], buf)
	if !CheckCRC(buf) {
		return rom, owerr.New(owerr.CRCMismatch, "onewire", nil)
	}
	b.rom = rom
	b.lastDeviceFlag = true
	return rom, nil
}

// SetSpeed selects standard or overdrive timing on the underlying
// transport.
func (b *Bus) SetSpeed(overdrive bool) error { return b.T.SetSpeed(overdrive) }

// SetLevel raises or drops strong pull-up. The bridge self-clears it
// on the next bus event, so callers must treat this as single-shot,
// §4.3.
func (b *Bus) SetLevel(strong bool) error { return b.T.SetLevel(strong) }

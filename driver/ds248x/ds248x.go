// Package ds248x implements a driver for the Maxim/Dallas DS2482-100
// (single-channel) and DS2482-800 (eight-channel) I²C-to-1-Wire
// bridge chips: register model, command sequencing, bus select/
// release and chip identification.
//
// The 1-Wire link layer itself (reset, bit/byte transport, ROM
// search) lives in package onewire and is generic over the
// onewire.Transport interface; Port, below, implements it.
package ds248x

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// I2C is the contract a bridge is driven through: a single
// write-then-read I²C transaction. TinyGo's *machine.I2C satisfies it;
// periph.io's i2c.Dev binds the address itself and is adapted to it
// in cmd/owctl.
type I2C interface {
	Tx(addr uint16, w, r []byte) error
}

// Kind identifies which physical chip was found during Identify.
type Kind int

const (
	Unknown Kind = iota
	DS2482_100
	DS2482_800
)

func (k Kind) String() string {
	switch k {
	case DS2482_100:
		return "DS2482-100"
	case DS2482_800:
		return "DS2482-800"
	default:
		return "unknown"
	}
}

// Channels reports how many 1-Wire channels this kind of bridge has.
func (k Kind) Channels() int {
	if k == DS2482_800 {
		return 8
	}
	return 1
}

// LockMode selects the locking discipline used by bus selection, per
// §5 of the design.
type LockMode int

const (
	// LockNone leaves mutual exclusion to the caller.
	LockNone LockMode = iota
	// LockPerIO wraps every I²C transaction in the bridge mutex.
	LockPerIO
	// LockPerBus acquires the mutex in Select and releases it in
	// Release or on any Select failure.
	LockPerBus
)

// Bridge is one detected DS2482-100/800 chip.
type Bridge struct {
	I2C  I2C
	Addr uint16
	Kind Kind
	Lock LockMode

	mu sync.Mutex

	status     Status
	config     Config
	portAdjust PortAdjust
	readPtr    byte
	curChan    int

	// ResetOK and ResetErr count bridge.Reset outcomes, exposed via
	// report for diagnostics (§7).
	ResetOK, ResetErr int

	// ConvertTimer is the one-shot timer of the conversion the ds18x20
	// scheduler last started on this bridge (§4.6 phase 1/2). It is
	// owned by the scheduler, not by this package, but lives here
	// because exactly one timer exists per bridge. ConvertIndex is not
	// set by that scheduler.
	ConvertTimer *time.Timer
	ConvertIndex int
}

// New wraps an I²C endpoint as a not-yet-identified bridge.
func New(bus I2C, addr uint16) *Bridge {
	return &Bridge{I2C: bus, Addr: addr, curChan: -1}
}

// Device-reset polling (§4.2): back-off between RST polls, and the
// maximum number of polls.
const (
	delayReset      = 10 * time.Millisecond
	resetMaxRetries = 20
)

// Bridge command bytes (§4.2, §6), shared with the periph.io ds248x
// driver's constants.
const (
	cmdDeviceReset   = 0xf0
	cmdSetReadPtr    = 0xe1
	cmdWriteConfig   = 0xd2
	cmdChannelSelect = 0xc3 // DS2482-800
	cmdPortAdjust    = 0xc3 // DS2483/DS2484, single-channel
	cmd1WReset       = 0xb4
	cmd1WWrite       = 0xa5
	cmd1WRead        = 0x96
	cmd1WBit         = 0x87
	cmd1WTriplet     = 0x78
)

// Register read-pointer values (§4.2).
const (
	regStatus     = 0xf0
	regReadData   = 0xe1
	regConfig     = 0xc3
	regPortAdjust = 0xb4
	regChannel    = 0xd2
)

// Channel select codes for the DS2482-800, keyed by physical channel
// 0..7: the byte to write, and the byte the channel register must
// read back afterwards. The write codes are (^ch<<4)|ch; the
// read-back codes come from the datasheet's channel selection table
// and follow no such formula.
var (
	chanWriteCode = [8]byte{0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87}
	chanReadCode  = [8]byte{0xb8, 0xb1, 0xaa, 0xa3, 0x9c, 0x95, 0x8e, 0x87}
)

func (b *Bridge) lockIO() func() {
	if b.Lock == LockPerIO {
		b.mu.Lock()
		return b.mu.Unlock
	}
	return func() {}
}

// writeDelayRead is the §4.2 primitive: write tx, optionally sleep
// delay, then read one status byte (or 5 for a port-adjust read) into
// the mirrored register named by the current read pointer.
func (b *Bridge) writeDelayRead(tx []byte, delay time.Duration) (Status, error) {
	defer b.lockIO()()
	n := 1
	if b.readPtr == regPortAdjust {
		n = 5
	}
	buf := make([]byte, n)
	if err := b.I2C.Tx(b.Addr, tx, buf); err != nil {
		return 0, i2cErr(err)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err := b.I2C.Tx(b.Addr, nil, buf); err != nil {
		return 0, i2cErr(err)
	}
	switch b.readPtr {
	case regStatus:
		b.status = Status(buf[0])
	case regConfig:
		b.config = Config(buf[0] & 0xf)
	case regPortAdjust:
		copy(b.portAdjust[:], buf)
	}
	return b.status, nil
}

// setReadPtr issues the set-read-pointer command.
func (b *Bridge) setReadPtr(reg byte) error {
	defer b.lockIO()()
	b.readPtr = reg
	return b.I2C.Tx(b.Addr, []byte{cmdSetReadPtr, reg}, nil)
}

// readStatus re-reads the status register and applies the busy check
// policy: OWB=1 on a status read is always an error (§4.2).
func (b *Bridge) readStatus() (Status, error) {
	if err := b.setReadPtr(regStatus); err != nil {
		return 0, err
	}
	defer b.lockIO()()
	buf := make([]byte, 1)
	if err := b.I2C.Tx(b.Addr, nil, buf); err != nil {
		return 0, i2cErr(err)
	}
	prev := b.status
	b.status = Status(buf[0])
	if s := reportStatus(prev, b.status); s != "" {
		log.Print("ds248x: " + s)
	}
	if b.status.Busy() {
		return b.status, newErr(BridgeBusyKind, "status: bus should be idle")
	}
	return b.status, nil
}

// waitIdle sleeps the command's documented delay once, then reads the
// status register once; it does not poll and does not check OWB (§5).
func (b *Bridge) waitIdle(delay time.Duration) (Status, error) {
	defer b.lockIO()()
	if delay > 0 {
		time.Sleep(delay)
	}
	buf := make([]byte, 1)
	if err := b.I2C.Tx(b.Addr, nil, buf); err != nil {
		return 0, i2cErr(err)
	}
	b.status = Status(buf[0])
	return b.status, nil
}

// Reset issues a device-reset and polls for RST=1, §4.2. It clears
// all register mirrors on success, then reasserts APU so the bridge
// never settles outside a reset with active pull-up off (§3: "APU=1
// at all times except during reset"). This matters because Reset is
// called more than once over a bridge's lifetime — Identify's own
// probing call as well as every subsequent owhub.Hub.Init — and each
// call must leave APU set on return, not just the first.
func (b *Bridge) Reset() error {
	func() {
		defer b.lockIO()()
		b.I2C.Tx(b.Addr, []byte{cmdDeviceReset}, nil)
	}()
	b.readPtr = regStatus
	for i := 0; i < resetMaxRetries; i++ {
		st, err := b.waitIdle(0)
		if err == nil && st.WasReset() {
			b.status = st
			b.config = 0
			b.portAdjust = PortAdjust{}
			b.curChan = -1
			b.ResetOK++
			return b.writeConfig(configAPU)
		}
		time.Sleep(delayReset)
	}
	b.ResetErr++
	return newErr(InvalidDeviceKind, "reset: RST never observed")
}

// Identify resets the bridge and probes which chip is attached,
// following the datasheet rather than the ambiguous comments in the
// original source (§9, open question ii): a successful port-adjust
// register read means a single-channel part with port-adjust
// support; failing that, a successful channel-register read means a
// DS2482-800; otherwise Identify fails with InvalidWhoAmI. Both branches
// assert APU explicitly (matching ds248xConfig() in the original,
// which sets APU unconditionally for every identified kind) rather
// than relying only on Reset's own assertion.
func (b *Bridge) Identify() error {
	if err := b.Reset(); err != nil {
		return err
	}
	if b.setReadPtr(regPortAdjust) == nil {
		// A chip that accepts the port-adjust read pointer has a
		// port-adjust register and is classified as the
		// single-channel variant.
		b.Kind = DS2482_100
		return b.writeConfig(b.config | configAPU)
	}
	if b.setReadPtr(regChannel) == nil {
		b.Kind = DS2482_800
		return b.writeConfig(b.config | configAPU)
	}
	return newErr(InvalidWhoAmIKind, "identify: no known chip responded")
}

// writeConfig writes the low nibble of cfg and verifies the echo
// (§4.2, §7 ConfigEcho).
func (b *Bridge) writeConfig(cfg Config) error {
	prev := b.config
	wire := cfg.wire()
	b.readPtr = regConfig
	var readback [1]byte
	func() {
		defer b.lockIO()()
		b.I2C.Tx(b.Addr, []byte{cmdWriteConfig, wire}, readback[:])
	}()
	if readback[0] != byte(cfg&0xf) {
		return newErr(ConfigEchoKind, fmt.Sprintf("write config: wrote %#02x got %#02x back", cfg&0xf, readback[0]))
	}
	b.config = cfg
	if s := reportConfig(prev, b.config); s != "" {
		log.Print("ds248x: " + s)
	}
	return nil
}

// setConfigBit toggles a single config bit (APU/PDN/SPU/OWS) and
// writes it through, per §4.2.
func (b *Bridge) setConfigBit(bit Config, on bool) error {
	cfg := b.config
	if on {
		cfg |= bit
	} else {
		cfg &^= bit
	}
	return b.writeConfig(cfg)
}

// Select chooses the physical channel on an eight-channel bridge.
// It is a no-op on a single-channel bridge. Select optionally
// acquires the bridge mutex first (LockPerBus) and releases it on
// failure so every exit path is balanced, per the invariant in §3.
func (b *Bridge) Select(channel int) error {
	if b.Lock == LockPerBus {
		b.mu.Lock()
	}
	if err := b.selectLocked(channel); err != nil {
		if b.Lock == LockPerBus {
			b.mu.Unlock()
		}
		return err
	}
	return nil
}

func (b *Bridge) selectLocked(channel int) error {
	if b.Kind != DS2482_800 {
		return nil
	}
	if b.curChan == channel {
		return nil
	}
	if channel < 0 || channel > 7 {
		return newErr(InvalidValueKind, "select: channel out of range")
	}
	b.readPtr = regChannel
	var readback [1]byte
	if err := b.I2C.Tx(b.Addr, []byte{cmdChannelSelect, chanWriteCode[channel]}, readback[:]); err != nil {
		b.curChan = -1
		return i2cErr(err)
	}
	if readback[0] != chanReadCode[channel] {
		b.curChan = -1
		return newErr(ChannelEchoKind, fmt.Sprintf("select: wrote ch %d, readback %#02x want %#02x", channel, readback[0], chanReadCode[channel]))
	}
	b.curChan = channel
	return nil
}

// Release gives up the bridge mutex acquired by Select under
// LockPerBus. It is always safe to call even if no lock is held.
func (b *Bridge) Release() {
	if b.Lock == LockPerBus {
		b.mu.Unlock()
	}
}

// CurChannel reports the channel last successfully selected, or -1.
func (b *Bridge) CurChannel() int { return b.curChan }

// Status returns the last-mirrored status register.
func (b *Bridge) Status() Status { return b.status }

// ConfigMirror returns the last-mirrored config register.
func (b *Bridge) ConfigMirror() Config { return b.config }

// PortAdjustMirror returns the last-mirrored port-adjust bytes
// (single-channel variant only).
func (b *Bridge) PortAdjustMirror() PortAdjust { return b.portAdjust }

// Port is a handle to one logical 1-Wire bus: a bridge plus the
// physical channel it is wired to. It implements the structural
// onewire.Transport interface without importing package onewire,
// keeping the link layer generic over bridge kind (§9, design notes).
type Port struct {
	Bridge  *Bridge
	Channel int
}

// Select chooses this port's channel on its bridge.
func (p *Port) Select() error { return p.Bridge.Select(p.Channel) }

// Release releases the bridge mutex acquired by Select.
func (p *Port) Release() { p.Bridge.Release() }

// Reset device-resets the bridge chip itself (not the 1-Wire bus).
func (p *Port) Reset() error { return p.Bridge.Reset() }

// Reset1W issues the 1-Wire reset/presence primitive, §4.3. The
// caller supplies the speed-appropriate delay.
func (p *Port) Reset1W(delay time.Duration) (presence bool, err error) {
	if p.Bridge.config.StrongPullup() {
		// SPU must be cleared before reset to avoid double-powering.
		if err := p.Bridge.setConfigBit(configSPU, false); err != nil {
			return false, err
		}
	}
	func() {
		defer p.Bridge.lockIO()()
		p.Bridge.I2C.Tx(p.Bridge.Addr, []byte{cmd1WReset}, nil)
	}()
	p.Bridge.readPtr = regStatus
	st, err := p.Bridge.waitIdle(delay)
	if err != nil {
		return false, err
	}
	p.Bridge.status = st
	if st.Short() {
		return false, newErr(InvalidDeviceKind, "reset1w: bus shorted")
	}
	return st.Presence(), nil
}

// TouchBit issues a single-bit transaction and returns SBR, §4.3.
func (p *Port) TouchBit(bit byte, delay time.Duration) (byte, error) {
	dir := byte(0)
	if bit != 0 {
		dir = 0x80
	}
	func() {
		defer p.Bridge.lockIO()()
		p.Bridge.I2C.Tx(p.Bridge.Addr, []byte{cmd1WBit, dir}, nil)
	}()
	p.Bridge.readPtr = regStatus
	st, err := p.Bridge.waitIdle(delay)
	if err != nil {
		return 0, err
	}
	p.Bridge.status = st
	if st.SingleBit() {
		return 1, nil
	}
	return 0, nil
}

// WriteByte writes one byte on the 1-Wire bus, first raising strong
// pull-up when strongPullup is true, then waits the given delay and
// reads status once; OWB is not checked.
func (p *Port) WriteByte(b byte, delay time.Duration, strongPullup bool) error {
	if strongPullup {
		if err := p.Bridge.setConfigBit(configSPU, true); err != nil {
			return err
		}
	}
	func() {
		defer p.Bridge.lockIO()()
		p.Bridge.I2C.Tx(p.Bridge.Addr, []byte{cmd1WWrite, b}, nil)
	}()
	p.Bridge.readPtr = regStatus
	_, err := p.Bridge.waitIdle(delay)
	return err
}

// ReadByte issues a 1-Wire byte read and fetches the data register,
// §4.3.
func (p *Port) ReadByte(delay time.Duration) (byte, error) {
	func() {
		defer p.Bridge.lockIO()()
		p.Bridge.I2C.Tx(p.Bridge.Addr, []byte{cmd1WRead}, nil)
	}()
	p.Bridge.readPtr = regStatus
	if _, err := p.Bridge.waitIdle(delay); err != nil {
		return 0, err
	}
	if err := p.Bridge.setReadPtr(regReadData); err != nil {
		return 0, err
	}
	defer p.Bridge.lockIO()()
	var buf [1]byte
	if err := p.Bridge.I2C.Tx(p.Bridge.Addr, nil, buf[:]); err != nil {
		return 0, i2cErr(err)
	}
	return buf[0], nil
}

// Triplet performs one bit of the ROM-search triplet command and
// reports SBR, TSB and the direction actually taken, §4.3/§6.
func (p *Port) Triplet(dir byte, delay time.Duration) (sbr, tsb, taken byte, err error) {
	wire := byte(0)
	if dir != 0 {
		wire = 0x80
	}
	func() {
		defer p.Bridge.lockIO()()
		p.Bridge.I2C.Tx(p.Bridge.Addr, []byte{cmd1WTriplet, wire}, nil)
	}()
	p.Bridge.readPtr = regStatus
	st, err := p.Bridge.waitIdle(delay)
	if err != nil {
		return 0, 0, 0, err
	}
	p.Bridge.status = st
	if st.SingleBit() {
		sbr = 1
	}
	if st.TripletBit() {
		tsb = 1
	}
	return sbr, tsb, st.Direction(), nil
}

// SetSpeed writes OWS, §4.3.
func (p *Port) SetSpeed(overdrive bool) error {
	return p.Bridge.setConfigBit(configOWS, overdrive)
}

// SetLevel writes SPU. The bridge documents strong pull-up as
// self-clearing on the next bus event, so this is only meaningful
// immediately before the operation that needs it (§4.3, §9).
func (p *Port) SetLevel(strong bool) error {
	return p.Bridge.setConfigBit(configSPU, strong)
}

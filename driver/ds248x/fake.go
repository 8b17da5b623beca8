package ds248x

// FakeBridge is an in-memory simulator of a DS2482 chip's I²C
// behavior: it simulates register state transitions rather than
// mocking individual calls, so protocol logic can be exercised
// without real hardware.
type FakeBridge struct {
	Kind Kind // which chip to simulate: DS2482_100 or DS2482_800

	status  Status
	config  Config
	curChan int
	readPtr byte

	// Presence/Short are injected by tests to drive the status
	// register's PPD/SD bits on the next 1-Wire reset.
	Presence bool
	Short    bool

	// SingleBit/TripletBit/Direction drive the outcome of the next
	// 1-Wire bit-level primitive.
	SingleBit, TripletBit, Direction byte

	// FailNext, if set, makes the next Tx call return this error
	// instead of simulating normally.
	FailNext error

	// Devices, keyed by physical channel, populates a simulated 1-Wire
	// device population for search/read-ROM tests. Channel 0 is used
	// for single-channel (DS2482-100) bridges.
	Devices [8][][8]byte

	active  []int // indices into Devices[ch] matching the search prefix so far
	bitPos  int
	readIdx int
}

func NewFakeBridge(kind Kind) *FakeBridge {
	return &FakeBridge{Kind: kind, curChan: -1}
}

func (f *FakeBridge) Tx(_ uint16, w, r []byte) error {
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	if len(w) == 0 {
		return f.readRegister(r)
	}
	switch w[0] {
	case cmdDeviceReset:
		f.status = statusRST
		f.config = 0
		f.curChan = -1
		f.readPtr = regStatus
	case cmdSetReadPtr:
		f.readPtr = w[1]
		if f.readPtr == regPortAdjust && f.Kind != DS2482_100 {
			return errDeviceNAK
		}
		if f.readPtr == regChannel && f.Kind != DS2482_800 {
			return errDeviceNAK
		}
		return f.readRegister(r)
	case cmdWriteConfig:
		f.config = Config(w[1] & 0xf)
		f.readPtr = regConfig
		return f.readRegister(r)
	case cmdChannelSelect:
		for ch, code := range chanWriteCode {
			if code == w[1] {
				f.curChan = ch
				if len(r) > 0 {
					r[0] = chanReadCode[ch]
				}
				return nil
			}
		}
		return errDeviceNAK
	case cmd1WReset:
		f.readPtr = regStatus
		f.resetSearch()
	case cmd1WBit:
		f.readPtr = regStatus
		if w[1] != 0 {
			f.status |= statusSBR // loopback: direction 1 read back as SBR
		} else {
			f.status &^= statusSBR
		}
		if f.SingleBit != 0 {
			f.status |= statusSBR
		}
	case cmd1WWrite:
		f.readPtr = regStatus
	case cmd1WRead:
		f.readPtr = regStatus
		return f.readDataRegister(r)
	case cmd1WTriplet:
		f.readPtr = regStatus
		f.triplet(w[1] != 0)
	}
	return nil
}

func (f *FakeBridge) channel() int {
	if f.curChan < 0 {
		return 0
	}
	return f.curChan
}

// resetSearch simulates the 1-Wire reset/presence primitive: presence
// comes from the channel's simulated device population when one is
// configured, falling back to the manually-injected Presence/Short
// fields for bridge-level unit tests that don't populate Devices.
func (f *FakeBridge) resetSearch() {
	devs := f.Devices[f.channel()]
	f.bitPos = 0
	f.readIdx = 0
	if len(devs) == 0 {
		f.status = f.simStatus()
		return
	}
	f.active = f.active[:0]
	for i := range devs {
		f.active = append(f.active, i)
	}
	f.status = statusPPD
}

// triplet simulates one bit of the ROM-search triplet command against
// the channel's device population (AN187 electrical behavior), or
// falls back to the manually-injected SingleBit/TripletBit/Direction
// fields when no population is configured.
func (f *FakeBridge) triplet(dir bool) {
	devs := f.Devices[f.channel()]
	if len(devs) == 0 {
		f.status &^= statusSBR | statusTSB | statusDIR
		if f.SingleBit != 0 {
			f.status |= statusSBR
		}
		if f.TripletBit != 0 {
			f.status |= statusTSB
		}
		if f.Direction != 0 {
			f.status |= statusDIR
		}
		return
	}

	byteIdx := f.bitPos / 8
	bitIdx := uint(f.bitPos % 8)
	have0, have1 := false, false
	for _, idx := range f.active {
		if (devs[idx][byteIdx]>>bitIdx)&1 == 0 {
			have0 = true
		} else {
			have1 = true
		}
	}

	f.status &^= statusSBR | statusTSB | statusDIR
	var taken byte
	switch {
	case have0 && have1:
		if dir {
			taken = 1
			f.status |= statusDIR
		}
	case have1:
		f.status |= statusSBR | statusDIR
		taken = 1
	case have0:
		f.status |= statusTSB
	}

	var next []int
	for _, idx := range f.active {
		if (devs[idx][byteIdx]>>bitIdx)&1 == taken {
			next = append(next, idx)
		}
	}
	f.active = next
	f.bitPos++
}

// readDataRegister services the 1-Wire byte-read primitive's
// subsequent data-register fetch, used by the Read-ROM fast path when
// exactly one device remains active.
func (f *FakeBridge) readDataRegister(r []byte) error {
	if len(r) == 0 {
		return nil
	}
	devs := f.Devices[f.channel()]
	if len(f.active) != 1 || f.readIdx >= 8 {
		return nil
	}
	r[0] = devs[f.active[0]][f.readIdx]
	f.readIdx++
	return nil
}

func (f *FakeBridge) simStatus() Status {
	s := Status(0)
	if f.Presence {
		s |= statusPPD
	}
	if f.Short {
		s |= statusSD
	}
	return s
}

func (f *FakeBridge) readRegister(r []byte) error {
	if len(r) == 0 {
		return nil
	}
	switch f.readPtr {
	case regStatus:
		r[0] = byte(f.status)
	case regConfig:
		r[0] = byte(f.config)
	case regChannel:
		if f.curChan >= 0 {
			r[0] = chanReadCode[f.curChan]
		}
	case regPortAdjust:
		// zeroed port-adjust bytes; tests that need specific values
		// set r directly via a follow-up Tx.
	case regReadData:
		return f.readDataRegister(r)
	}
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errDeviceNAK = fakeErr("fake: device NAK")

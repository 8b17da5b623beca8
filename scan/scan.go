// Package scan implements enumeration (C5): scanning every logical
// 1-Wire bus for all devices or a single family, verifying CRC, and
// dispatching a counting callback per device found.
package scan

import (
	"onewire.dev/driver/ds248x"
	"onewire.dev/onewire"
	"onewire.dev/owerr"
	"onewire.dev/topology"
)

// Device is the 1-Wire device descriptor, §3: its ROM, the
// search-iterator state that found it, and where it lives in the
// topology.
type Device struct {
	ROM [8]byte

	LastDiscrepancy       int
	LastFamilyDiscrepancy int
	LastDeviceFlag        bool

	Bridge  int
	Channel int

	Overdrive bool
	Parasitic bool
}

// Family returns the ROM's family code (byte 0).
func (d Device) Family() byte { return d.ROM[0] }

// Bridges is the scanner's view of the bridge fleet: one *ds248x.Bridge
// per detected chip, index-matched to the topology's bridge ranges.
type Bridges []*ds248x.Bridge

// Scanner ties a topology, a bridge fleet, and bus construction
// together so callers can scan by logical bus number without caring
// which physical bridge/channel backs it.
type Scanner struct {
	Topo    *topology.Map
	Bridges Bridges
}

// New builds a Scanner over the given topology and bridge fleet.
func New(topo *topology.Map, bridges Bridges) *Scanner {
	return &Scanner{Topo: topo, Bridges: bridges}
}

// busFor returns a link-layer Bus for the given logical bus number.
func (s *Scanner) busFor(logical int) (*onewire.Bus, *ds248x.Port, error) {
	bi, phys, err := s.Topo.L2P(logical)
	if err != nil {
		return nil, nil, err
	}
	port := &ds248x.Port{Bridge: s.Bridges[bi], Channel: phys}
	return onewire.NewBus(port), port, nil
}

// Callback is invoked once per ROM found during a scan. Returning a
// negative count terminates the scan early with that error; a
// positive or zero count is added to the scan's running total.
type Callback func(dev Device) (count int, err error)

// Scan enumerates every logical bus for the given family (0 means
// "every family"), invoking cb once per device found, §4.5.
func (s *Scanner) Scan(family byte, cb Callback) (total int, err error) {
	for logical := 0; logical < s.Topo.NumBuses(); logical++ {
		n, err := s.scanBus(logical, family, cb)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Scanner) scanBus(logical int, family byte, cb Callback) (count int, err error) {
	bus, port, err := s.busFor(logical)
	if err != nil {
		return 0, err
	}
	if err := port.Select(); err != nil {
		return 0, err
	}
	defer port.Release()

	if family != 0 {
		bus.TargetSetup(family)
	}
	found, err := firstOrNext(bus, family)
	for found {
		if err != nil {
			return count, err
		}
		rom := bus.ROM()
		if !onewire.CheckCRC(rom[:]) {
			// CRCMismatch during ROM search: state is reset,
			// enumeration continues from the next bus, §7.
			return count, nil
		}
		dev := Device{
			ROM:     rom,
			Bridge:  0,
			Channel: port.Channel,
		}
		for i, b := range s.Bridges {
			if b == port.Bridge {
				dev.Bridge = i
				break
			}
		}
		n, err := cb(dev)
		if err != nil {
			return count, err
		}
		if n < 0 {
			return count, owerr.New(owerr.InvalidDevice, "scan", nil)
		}
		count += n

		found, err = bus.Next()
	}
	if owerr.Is(err, owerr.CRCMismatch) {
		// Search has already reset its state; move on to the next bus.
		return count, nil
	}
	return count, err
}

func firstOrNext(bus *onewire.Bus, family byte) (bool, error) {
	if family != 0 {
		return bus.Next()
	}
	return bus.First()
}

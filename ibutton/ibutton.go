// Package ibutton implements the debounced presence pipeline (C7) for
// family-0x01 ID buttons: one scan across every logical bus,
// suppressing repeated sightings of the same ROM within a debounce
// window and edge-triggering a notification bitmap otherwise.
package ibutton

import (
	"time"

	"onewire.dev/scan"
)

// Family is the 1-Wire family code for DS1990A/DS9097 ID buttons.
const Family = 0x01

// DefaultDebounceSeconds is the debounce window used when a caller
// does not configure one, §4.7.
const DefaultDebounceSeconds = 5

// Now returns the current unix-seconds timestamp. It is a variable so
// tests can drive the debounce window deterministically instead of
// depending on real wall-clock time.
var Now func() int64 = func() int64 { return time.Now().Unix() }

// Pipeline runs presence scans and reports a notification bitmap
// indexed by logical bus number, §6 Endpoint surface.
type Pipeline struct {
	Scan            *scan.Scanner
	DebounceSeconds int64
}

// New builds a Pipeline with the default debounce window.
func New(s *scan.Scanner) *Pipeline {
	return &Pipeline{Scan: s, DebounceSeconds: DefaultDebounceSeconds}
}

// debounced reports whether a sighting of rom at time now should be
// suppressed as a repeat of lastROM last seen at lastRead, within the
// given debounce window, §4.7.
func debounced(lastROM, rom [8]byte, lastRead, now, window int64) bool {
	return lastROM == rom && now-lastRead <= window
}

// Sense runs scan(0x01, cb) across every logical bus and returns a
// bitmap with bit k set iff a new, debounced tag was observed on
// logical bus k, §4.7.
func (p *Pipeline) Sense() (notify uint64, err error) {
	now := Now()
	_, err = p.Scan.Scan(Family, func(dev scan.Device) (int, error) {
		logical, lerr := p.Scan.Topo.P2L(dev.Bridge, dev.Channel)
		if lerr != nil {
			return -1, lerr
		}
		bus := p.Scan.Topo.Bus(logical)
		if bus == nil {
			return -1, lerr
		}
		if debounced(bus.IButtonLastROM, dev.ROM, bus.IButtonLastRead, now, p.DebounceSeconds) {
			return 0, nil
		}
		bus.IButtonLastROM = dev.ROM
		bus.IButtonLastRead = now
		notify |= 1 << uint(logical)
		return 1, nil
	})
	return notify, err
}

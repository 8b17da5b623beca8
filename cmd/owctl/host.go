//go:build !tinygo

package main

import (
	"fmt"
	"strconv"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"onewire.dev/driver/ds248x"
)

// periphI2C adapts a periph.io i2c.Dev (whose Tx signature already
// binds the target address) to ds248x.I2C's TinyGo-style
// Tx(addr, w, r) contract; addr is ignored since dev already carries
// it.
type periphI2C struct{ dev *i2c.Dev }

func (p periphI2C) Tx(_ uint16, w, r []byte) error { return p.dev.Tx(w, r) }

// openHostBridges opens the named periph.io I2C bus (or the first
// available one, if busName is empty) and identifies one bridge per
// address in addrList, mirroring seedhammer.com/driver/wshat's
// host.Init() + periph.io device lookup, generalized from GPIO to I2C.
func openHostBridges(busName, addrList string, lock ds248x.LockMode) ([]*ds248x.Bridge, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}

	var bridges []*ds248x.Bridge
	for _, a := range splitAddrs(addrList) {
		addr, err := strconv.ParseUint(a, 0, 16)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("bad address %q: %w", a, err)
		}
		dev := &i2c.Dev{Bus: bus, Addr: uint16(addr)}
		b := ds248x.New(periphI2C{dev}, uint16(addr))
		b.Lock = lock
		if err := b.Identify(); err != nil {
			bus.Close()
			return nil, fmt.Errorf("identify 0x%02x: %w", addr, err)
		}
		bridges = append(bridges, b)
	}
	if len(bridges) == 0 {
		bus.Close()
		return nil, fmt.Errorf("no bridge addresses configured")
	}
	return bridges, nil
}

// command owctl is a diagnostic and configuration front-end for the
// 1-Wire bridge stack: it identifies every configured DS2482 bridge,
// enumerates devices, and accepts the mode command grammar from §6.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"onewire.dev/driver/ds248x"
	"onewire.dev/owhub"
)

var (
	i2cBus  = flag.String("i2c", "", "I2C bus name (empty: first available)")
	addrs   = flag.String("addrs", "0x18", "comma-separated bridge I2C addresses, hex or decimal")
	lockArg = flag.String("lock", "per-io", "locking discipline: none, per-io, per-bus")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "owctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	lock, err := parseLock(*lockArg)
	if err != nil {
		return err
	}

	bridges, err := openHostBridges(*i2cBus, *addrs, lock)
	if err != nil {
		return err
	}

	hub := owhub.New(bridges)
	if err := hub.Init(); err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		hub.Dump(os.Stdout)
		return nil
	}

	switch args[0] {
	case "sense":
		notify, err := hub.Sense()
		if err != nil {
			return err
		}
		fmt.Printf("ibutton notify bitmap: %064b\n", notify)
	case "mode":
		if len(args) < 3 || args[1] != "/ow/ds18x20" {
			return fmt.Errorf("usage: mode /ow/ds18x20 <idx> <lo> <hi> <res> [persist]")
		}
		code := hub.Configure(args[2:])
		if code != 0 {
			os.Exit(-code)
		}
	case "dump":
		hub.Dump(os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func parseLock(s string) (ds248x.LockMode, error) {
	switch s {
	case "none":
		return ds248x.LockNone, nil
	case "per-io":
		return ds248x.LockPerIO, nil
	case "per-bus":
		return ds248x.LockPerBus, nil
	default:
		return 0, fmt.Errorf("unknown lock mode %q", s)
	}
}

// splitAddrs parses a comma-separated list of hex or decimal I2C
// addresses, shared by every platform's openHostBridges.
func splitAddrs(addrList string) []string {
	var out []string
	for _, a := range strings.Split(addrList, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

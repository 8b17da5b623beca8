// Package owhub is the root aggregator: it owns the bridge, topology,
// thermometer and iButton state built at init, and exposes the
// Sense/Configure entry points the CLI and periodic timer call into.
package owhub

import (
	"io"
	"strconv"
	"strings"

	"onewire.dev/driver/ds248x"
	"onewire.dev/ds18x20"
	"onewire.dev/ibutton"
	"onewire.dev/owerr"
	"onewire.dev/report"
	"onewire.dev/scan"
	"onewire.dev/topology"
)

// Hub wires together every layer of the stack over a fixed set of
// already-identified bridges.
type Hub struct {
	Bridges []*ds248x.Bridge
	Topo    *topology.Map
	Scan    *scan.Scanner
	Therm   *ds18x20.Pipeline
	Button  *ibutton.Pipeline
}

// New builds a Hub over bridges, each already Identify()'d so its
// Kind (and therefore channel count) is known.
func New(bridges []*ds248x.Bridge) *Hub {
	channels := make([]int, len(bridges))
	for i, b := range bridges {
		channels[i] = b.Kind.Channels()
	}
	topo := topology.New(channels)
	s := scan.New(topo, scan.Bridges(bridges))
	return &Hub{
		Bridges: bridges,
		Topo:    topo,
		Scan:    s,
		Therm:   ds18x20.New(s),
		Button:  ibutton.New(s),
	}
}

// Init resets every bridge and enumerates thermometers, §4.5/§4.6
// Initialize.
func (h *Hub) Init() error {
	for _, b := range h.Bridges {
		if err := b.Reset(); err != nil {
			return err
		}
	}
	return h.Therm.Enumerate()
}

// Sense runs one periodic acquisition cycle: temperature conversion
// and debounced iButton presence, and returns the iButton
// notification bitmap.
func (h *Hub) Sense() (ibuttonNotify uint64, err error) {
	if err := h.Therm.Convert(); err != nil {
		return 0, err
	}
	return h.Button.Sense()
}

// Configure implements the §6 grammar:
//
//	mode /ow/ds18x20 <idx> <lo> <hi> <res> [persist]
//
// idx is either a thermometer index or "count" to mean all of them.
// Returns 0 on success, a negative domain-specific code otherwise.
func (h *Hub) Configure(args []string) int {
	if len(args) < 4 {
		return -1
	}
	idxLo, idxHi, err := parseIndex(args[0], len(h.Therm.Devices))
	if err != nil {
		return errCode(err)
	}
	lo, err := parseInt8(args[1])
	if err != nil {
		return errCode(err)
	}
	hi, err := parseInt8(args[2])
	if err != nil {
		return errCode(err)
	}
	res, err := strconv.Atoi(args[3])
	if err != nil || res < 9 || res > 12 {
		return -1
	}
	persist := false
	if len(args) >= 5 {
		persist = args[4] == "1"
	}
	if err := h.Therm.ConfigMode(idxLo, idxHi, lo, hi, res, persist); err != nil {
		return errCode(err)
	}
	return 0
}

func parseIndex(s string, n int) (lo, hi int, err error) {
	if strings.EqualFold(s, "count") {
		return 0, n - 1, nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, owerr.New(owerr.InvalidValue, "owhub", err)
	}
	return idx, idx, nil
}

func parseInt8(s string) (int8, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < -128 || v > 127 {
		return 0, owerr.New(owerr.InvalidValue, "owhub", err)
	}
	return int8(v), nil
}

// errCode maps an owerr.Kind to the CLI's negative exit codes, §6:
// invalid-value, invalid-operation, invalid-mode.
func errCode(err error) int {
	e, ok := owerr.As(err)
	if !ok {
		return -1
	}
	switch e.Kind {
	case owerr.InvalidValue:
		return -1
	case owerr.InvalidOperation:
		return -2
	default:
		return -3
	}
}

// Dump writes the combined status report (C8) to w.
func (h *Hub) Dump(w io.Writer) {
	report.DumpAll(w, h.Bridges, h.Topo.AllBuses(), h.Therm.Devices)
}

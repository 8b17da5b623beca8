package ds18x20

import (
	"sync"
	"time"

	"onewire.dev/onewire"
	"onewire.dev/owerr"
)

// segment is a maximal run of consecutive devices (array is sorted by
// bridge, channel, ROM) sharing one (bridge, channel) pair — i.e. one
// logical bus's worth of work for the scheduler.
type segment struct {
	bridge, channel int
	devices         []*Thermometer
}

func segments(devices []*Thermometer) []segment {
	var segs []segment
	for _, t := range devices {
		if n := len(segs); n > 0 && segs[n-1].bridge == t.Bridge && segs[n-1].channel == t.Channel {
			segs[n-1].devices = append(segs[n-1].devices, t)
			continue
		}
		segs = append(segs, segment{bridge: t.Bridge, channel: t.Channel, devices: []*Thermometer{t}})
	}
	return segs
}

// tConvertDelay computes the conversion wait, §4.6: the resolution-
// aware delay `750ms/(4-res)` applies only when skip-ROM was used and
// the bus holds only family-0x28 devices; otherwise the full 750ms.
func tConvertDelay(devices []*Thermometer, onlyFamily28 bool) time.Duration {
	if !onlyFamily28 {
		return 750 * time.Millisecond
	}
	maxRes := 0
	for _, t := range devices {
		if t.Family() == Family28 && t.Resolution > maxRes {
			maxRes = t.Resolution
		}
	}
	ms := 750.0 / float64(4-maxRes)
	return time.Duration(ms * float64(time.Millisecond))
}

// Convert runs the three-phase parallel acquisition scheduler, §4.6:
// phase 1 triggers convert-all on each bridge's first bus
// concurrently; phase 2 waits out each bridge's independent one-shot
// timer; phase 3 reads scratchpads sequentially within a bus, moving
// on to the next bus of the same bridge (serially) or returning
// (bridges run concurrently with each other).
func (p *Pipeline) Convert() error {
	segs := segments(p.Devices)

	var order []int
	byBridge := map[int][]segment{}
	for _, s := range segs {
		if _, ok := byBridge[s.bridge]; !ok {
			order = append(order, s.bridge)
		}
		byBridge[s.bridge] = append(byBridge[s.bridge], s)
	}

	errCh := make(chan error, len(order))
	var wg sync.WaitGroup
	for _, bi := range order {
		wg.Add(1)
		go func(bi int, segs []segment) {
			defer wg.Done()
			errCh <- p.convertBridge(bi, segs)
		}(bi, byBridge[bi])
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// ConvertInline is the "all-in-one" fallback, §4.6 Fallback: the same
// phase 1/wait/phase 3 sequence as Convert, but run on the caller's
// goroutine with no per-bridge concurrency, for hosts with no timer
// facility available.
func (p *Pipeline) ConvertInline() error {
	for _, s := range segments(p.Devices) {
		if err := p.convertSegment(s.bridge, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) convertBridge(bridge int, segs []segment) error {
	for _, s := range segs {
		if err := p.convertSegment(bridge, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) convertSegment(bridge int, s segment) error {
	bus, port, err := p.busFor(bridge, s.channel)
	if err != nil {
		return err
	}
	if err := port.Select(); err != nil {
		return err
	}
	defer port.Release()

	onlyFam28 := true
	if lbus, lerr := p.logicalBus(bridge, s.channel); lerr == nil {
		onlyFam28 = lbus.DS18S20Count == 0
	}
	delay := tConvertDelay(s.devices, onlyFam28)

	present, err := bus.ResetCommand(onewire.CmdConvertT, [8]byte{}, true, true)
	if err != nil {
		return err
	}
	if !present {
		return owerr.New(owerr.PresenceMissing, "ds18x20", nil)
	}

	timer := time.NewTimer(delay)
	p.Scan.Bridges[bridge].ConvertTimer = timer
	<-timer.C

	if err := bus.SetLevel(false); err != nil {
		return err
	}

	for _, t := range s.devices {
		buf, err := p.readScratchpad(bus, t.ROM, 2)
		if err != nil {
			if owerr.Is(err, owerr.CRCMismatch) || owerr.Is(err, owerr.PresenceMissing) {
				// Skip conversion for this device this cycle; the
				// endpoint retains its previous value, §7.
				continue
			}
			return err
		}
		t.Scratchpad[0], t.Scratchpad[1] = buf[0], buf[1]
		t.Endpoint = t.Decode()
	}
	return nil
}

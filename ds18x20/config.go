package ds18x20

import "onewire.dev/owerr"

// SetResolution sets r (9..12) on devices of family 0x28, §4.6. It is
// idempotent: no write occurs if the resolution already matches, and
// the returned bool reports whether anything changed. Both an
// out-of-range r and a call on a family-0x10 device return
// InvalidValue, §8 boundary behaviour — there is no separate
// "invalid operation" kind for this check.
func (t *Thermometer) SetResolution(r int) (changed bool, err error) {
	if t.Family() != Family28 {
		return false, owerr.New(owerr.InvalidValue, "ds18x20", nil)
	}
	if r < 9 || r > 12 {
		return false, owerr.New(owerr.InvalidValue, "ds18x20", nil)
	}
	res := r - 9
	if t.Resolution == res {
		return false, nil
	}
	t.Resolution = res
	return true, nil
}

// SetAlarms sets the low/high alarm thresholds, §4.6. Idempotent like
// SetResolution.
func (t *Thermometer) SetAlarms(lo, hi int8) (changed bool, err error) {
	curLo := int8(t.Scratchpad[3])
	curHi := int8(t.Scratchpad[2])
	if curLo == lo && curHi == hi {
		return false, nil
	}
	t.Scratchpad[2] = byte(hi)
	t.Scratchpad[3] = byte(lo)
	return true, nil
}

// ConfigMode applies resolution and alarm thresholds to every
// thermometer index in [idxLo, idxHi], writing the scratchpad if
// anything changed and, when persist is set, committing to EEPROM,
// §4.6 config_mode / §6 grammar.
func (p *Pipeline) ConfigMode(idxLo, idxHi int, lo, hi int8, res int, persist bool) error {
	if idxLo < 0 || idxHi >= len(p.Devices) || idxLo > idxHi {
		return owerr.New(owerr.InvalidValue, "ds18x20", nil)
	}
	for i := idxLo; i <= idxHi; i++ {
		t := p.Devices[i]
		changedRes := false
		var err error
		if t.Family() == Family28 {
			changedRes, err = t.SetResolution(res)
			if err != nil {
				return err
			}
		}
		changedAlarm, err := t.SetAlarms(lo, hi)
		if err != nil {
			return err
		}
		if !changedRes && !changedAlarm {
			continue
		}
		bus, port, err := p.busFor(t.Bridge, t.Channel)
		if err != nil {
			return err
		}
		if err := port.Select(); err != nil {
			return err
		}
		werr := p.writeScratchpad(bus, t, lo, hi)
		if werr == nil && persist {
			werr = p.copyScratchpad(bus, t.ROM)
		}
		port.Release()
		if werr != nil {
			return werr
		}
	}
	return nil
}

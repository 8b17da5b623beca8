package ds18x20

// EnforceCadence applies the endpoint-table cadence contract, §4.6:
// every TsnsMs is floored at 1000ms, the primary (index 0) is reduced
// to the minimum across all devices, and every other device's own
// TsnsMs is cleared so the scheduler only fires at the primary's
// rate.
func (p *Pipeline) EnforceCadence() {
	if len(p.Devices) == 0 {
		return
	}
	minMs := 0
	for _, t := range p.Devices {
		if t.TsnsMs < 1000 {
			t.TsnsMs = 1000
		}
		if minMs == 0 || t.TsnsMs < minMs {
			minMs = t.TsnsMs
		}
	}
	p.Devices[0].TsnsMs = minMs
	for _, t := range p.Devices[1:] {
		t.TsnsMs = 0
	}
}

// Last modified: 2025.9.21
//

package radtran

import "testing"

func TestBrightPlanckRoundtrip(t *testing.T) {
	nu := 700.0
	tIn := 260.0
	rad := Planck(nu, tIn)
	tOut := Bright(rad, nu)
	if !almostEqual(tIn, tOut, 1e-6) {
		t.Errorf("Bright(Planck(nu,T),nu) = %v, want %v", tOut, tIn)
	}
}

func TestBrightNonPositiveRadiance(t *testing.T) {
	if v := Bright(0, 700); v != 0 {
		t.Errorf("Bright(0,nu) = %v, want 0", v)
	}
	if v := Bright(-1, 700); v != 0 {
		t.Errorf("Bright(-1,nu) = %v, want 0", v)
	}
}

func TestSegmentEpsSrcAppliesN2O2ContinuaInDryAir(t *testing.T) {
	ctl := NewCtl(1, 1, 1, 0, 0)
	ctl.CtmCO2, ctl.CtmH2O = false, false
	ctl.Nu[0] = 2350 // centered on the N2-N2 collision-induced band
	ctl.Window[0] = -1
	tbl := buildTestTable()
	atm := buildRaytraceAtm()

	// Bone-dry layer: H2O mixing ratio is zero, so the old qH2O>0 guard
	// skipped ContinuumOD entirely, silently dropping the N2/O2
	// continuum terms even when their toggles are on.
	pt := &LOSPoint{P: 300, T: 230, Q: []float64{0}, K: []float64{0}, Ds: 5, U: []float64{1e18}, CgP: []float64{300}, CgT: []float64{230}, CgU: []float64{1e18}}
	cumU := []float64{0}

	ctl.CtmN2, ctl.CtmO2 = false, false
	epsOff, _ := segmentEpsSrc(ctl, tbl, atm, pt, cumU)

	ctl.CtmN2, ctl.CtmO2 = true, true
	epsOn, _ := segmentEpsSrc(ctl, tbl, atm, pt, cumU)

	if epsOn[0] <= epsOff[0] {
		t.Errorf("segment emissivity with CtmN2/CtmO2 on (%v) should exceed off (%v) in dry air", epsOn[0], epsOff[0])
	}
}

func TestRunBandRTProducesBoundedEmissivity(t *testing.T) {
	ctl := NewCtl(1, 1, 1, 0, 0)
	ctl.CtmH2O, ctl.CtmN2, ctl.CtmO2, ctl.CtmCO2 = false, false, false, false
	ctl.Nu[0] = 700
	ctl.Window[0] = 0
	tbl := buildTestTable()
	atm := buildRaytraceAtm()

	los := &LOS{Points: []LOSPoint{
		{Z: 10, P: 300, T: 230, Q: []float64{350e-6}, K: []float64{0}, Ds: 5, U: []float64{1e19}, CgP: []float64{300}, CgT: []float64{230}, CgU: []float64{1e19}},
		{Z: 5, P: 600, T: 260, Q: []float64{350e-6}, K: []float64{0}, Ds: 5, U: []float64{1e19}, CgP: []float64{600}, CgT: []float64{260}, CgU: []float64{2e19}},
	}}
	r := NewRay(1)
	if err := RunBandRT(ctl, tbl, atm, los, &r); err != nil {
		t.Fatal(err)
	}
	if r.Rad[0] < 0 {
		t.Errorf("radiance should be non-negative, got %v", r.Rad[0])
	}
	if r.Tau[0] < 0 || r.Tau[0] > 1 {
		t.Errorf("transmittance should be in [0,1], got %v", r.Tau[0])
	}
	for _, pt := range los.Points {
		for _, e := range pt.Eps {
			if e < 0 || e > 1 {
				t.Errorf("segment emissivity out of [0,1]: %v", e)
			}
		}
	}
}

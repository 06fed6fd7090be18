// Last modified: 2025.9.21
//

package radtran

import "testing"

func buildStateMapCtl() *Ctl {
	ctl := NewCtl(1, 2, 1, 0, 0)
	ctl.RetT = ZWindow{Zmin: 0, Zmax: 100, Retrieve: true}
	ctl.RetQ[0] = ZWindow{Zmin: 0, Zmax: 100, Retrieve: true}
	return ctl
}

func TestAtm2xX2atmRoundtrip(t *testing.T) {
	ctl := buildStateMapCtl()
	atm := buildRaytraceAtm()
	for i := range atm.Levels {
		atm.Levels[i].Q = []float64{350e-6}
	}

	x, iqa, ipa := Atm2x(ctl, atm)
	if len(x) == 0 {
		t.Fatal("expected a non-empty state vector")
	}
	if len(iqa) != len(x) || len(ipa) != len(x) {
		t.Fatalf("iqa/ipa length mismatch: len(x)=%d len(iqa)=%d len(ipa)=%d", len(x), len(iqa), len(ipa))
	}

	for i := range x {
		x[i] *= 1.01
	}
	atm2 := atm.Clone()
	X2atm(ctl, x, atm2)

	x2, _, _ := Atm2x(ctl, atm2)
	for i := range x {
		if !almostEqual(x[i], x2[i], 1e-6) {
			t.Errorf("roundtrip mismatch at entry %d: got %v, want %v", i, x2[i], x[i])
		}
	}
}

func TestAtm2xOnlyPacksRetrievedQuantities(t *testing.T) {
	ctl := buildStateMapCtl() // RetP not enabled
	atm := buildRaytraceAtm()
	for i := range atm.Levels {
		atm.Levels[i].Q = []float64{350e-6}
	}
	_, iqa, _ := Atm2x(ctl, atm)
	for _, q := range iqa {
		if q == QP {
			t.Errorf("pressure should not be packed when RetP.Retrieve is false")
		}
	}
}

func TestObs2yY2obsRoundtrip(t *testing.T) {
	ctl := NewCtl(1, 2, 1, 0, 0)
	obs := NewObs(3, 2)
	for ir := range obs.Rays {
		obs.Rays[ir].Rad = []float64{float64(ir), float64(ir) + 0.5}
	}
	y, ida, ira := Obs2y(ctl, obs)
	if len(y) != 6 {
		t.Fatalf("len(y) = %d, want 6", len(y))
	}
	if len(ida) != 6 || len(ira) != 6 {
		t.Fatalf("ida/ira length mismatch")
	}

	obs2 := NewObs(3, 2)
	Y2obs(ctl, y, obs2)
	for ir := range obs.Rays {
		for d := 0; d < 2; d++ {
			if obs.Rays[ir].Rad[d] != obs2.Rays[ir].Rad[d] {
				t.Errorf("Y2obs mismatch at ray %d channel %d", ir, d)
			}
		}
	}
}

// Last modified: 2025.9.21
//

package radtran

import (
	"math"
	"testing"
)

func buildJacobianFixture() (*Ctl, *TableStore, *Atm, *Obs) {
	ctl := NewCtl(1, 1, 1, 0, 0)
	ctl.Refrac = false
	ctl.CtmCO2, ctl.CtmH2O, ctl.CtmN2, ctl.CtmO2 = false, false, false, false
	ctl.Nu[0] = 700
	ctl.RetT = ZWindow{Zmin: 0, Zmax: 60, Retrieve: true}

	atm := buildRaytraceAtm()
	tbl := buildTestTable()

	obs := NewObs(1, 1)
	obs.Rays[0].ObsZ, obs.Rays[0].ObsLon, obs.Rays[0].ObsLat = 60, 0, 0
	obs.Rays[0].VpZ, obs.Rays[0].VpLon, obs.Rays[0].VpLat = 0, 0, 0

	return ctl, tbl, atm, obs
}

func TestComputeJacobianDimensions(t *testing.T) {
	ctl, tbl, atm, obs := buildJacobianFixture()
	fwd := BuiltinForwardModel{}

	if err := fwd.Run(ctl, tbl, atm, obs); err != nil {
		t.Fatal(err)
	}
	y0, _, _ := Obs2y(ctl, obs)
	x, iqa, ipa := Atm2x(ctl, atm)

	K, err := ComputeJacobian(ctl, tbl, fwd, atm, obs, x, iqa, ipa, y0)
	if err != nil {
		t.Fatal(err)
	}
	m, n := K.Dims()
	if m != len(y0) || n != len(x) {
		t.Errorf("K dims = (%d,%d), want (%d,%d)", m, n, len(y0), len(x))
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if math.IsNaN(K.At(i, j)) {
				t.Errorf("K[%d,%d] is NaN", i, j)
			}
		}
	}
}

func TestPerturbationClassesAreNonZero(t *testing.T) {
	ctl := NewCtl(1, 1, 1, 0, 0)
	if d := perturbation(ctl, QT, 250); d != 1.0 {
		t.Errorf("temperature perturbation = %v, want 1.0", d)
	}
	if d := perturbation(ctl, QP, 1000); !almostEqual(d, 10, 1e-9) {
		t.Errorf("pressure perturbation = %v, want 1%% of 1000 = 10", d)
	}
	if d := perturbation(ctl, QQ0, 0.01); !almostEqual(d, 0.001, 1e-9) {
		t.Errorf("q perturbation = %v, want 10%% of 0.01 = 0.001", d)
	}
}

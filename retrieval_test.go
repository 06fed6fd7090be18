// Last modified: 2025.9.21
//

package radtran

import (
	"math"
	"testing"
)

func buildRetrievalFixture() (*Ctl, *TableStore, *Atm, *Obs) {
	ctl := NewCtl(1, 1, 1, 0, 0)
	ctl.Refrac = false
	ctl.CtmCO2, ctl.CtmH2O, ctl.CtmN2, ctl.CtmO2 = false, false, false, false
	ctl.Nu[0] = 700
	ctl.RetT = ZWindow{Zmin: 0, Zmax: 60, Retrieve: true}
	ctl.ErrT = 5
	ctl.ErrNoise[0] = 0.01
	ctl.ErrFormod[0] = 0.001
	ctl.ConvItmax = 5
	ctl.KernelRecomp = 1

	atm := buildRaytraceAtm()
	tbl := buildTestTable()

	obs := NewObs(1, 1)
	obs.Rays[0].ObsZ, obs.Rays[0].ObsLon, obs.Rays[0].ObsLat = 60, 0, 0
	obs.Rays[0].VpZ, obs.Rays[0].VpLon, obs.Rays[0].VpLat = 0, 0, 0

	return ctl, tbl, atm, obs
}

func TestRetrieveRunsAndProducesFiniteCost(t *testing.T) {
	ctl, tbl, truth, obsTemplate := buildRetrievalFixture()
	fwd := BuiltinForwardModel{}

	measured := obsTemplate.Clone()
	if err := fwd.Run(ctl, tbl, truth, measured); err != nil {
		t.Fatal(err)
	}

	prior := truth.Clone()
	for i := range prior.Levels {
		prior.Levels[i].T += 10
	}

	res, err := Retrieve(ctl, tbl, fwd, prior, measured)
	if err != nil {
		if _, ok := err.(*ConvergenceWarning); !ok {
			t.Fatal(err)
		}
	}
	if math.IsNaN(res.ChiSqr) || math.IsInf(res.ChiSqr, 0) {
		t.Errorf("ChiSqr = %v, want finite", res.ChiSqr)
	}
	if len(res.CostHistory) == 0 {
		t.Errorf("expected a non-empty cost history")
	}
	if res.Iterations == 0 {
		t.Errorf("expected at least one accepted iteration")
	}
}

func TestRetrievePosteriorAnalysisShapes(t *testing.T) {
	ctl, tbl, truth, obsTemplate := buildRetrievalFixture()
	ctl.ErrAna = true
	fwd := BuiltinForwardModel{}

	measured := obsTemplate.Clone()
	if err := fwd.Run(ctl, tbl, truth, measured); err != nil {
		t.Fatal(err)
	}
	prior := truth.Clone()
	for i := range prior.Levels {
		prior.Levels[i].T += 5
	}

	res, err := Retrieve(ctl, tbl, fwd, prior, measured)
	if err != nil {
		if _, ok := err.(*ConvergenceWarning); !ok {
			t.Fatal(err)
		}
	}
	if res.Sx == nil || res.Avk == nil || res.Gain == nil {
		t.Fatal("expected posterior analysis matrices to be populated")
	}
	n := len(res.X)
	r, c := res.Avk.Dims()
	if r != n || c != n {
		t.Errorf("Avk dims = (%d,%d), want (%d,%d)", r, c, n, n)
	}
	if res.Dof < 0 {
		t.Errorf("Dof = %v, want >= 0", res.Dof)
	}
}

// nanForwardModel simulates a forward model that has diverged (e.g. a
// table lookup returning NaN at some perturbed state), always
// returning a NaN radiance regardless of the atmosphere it is given.
type nanForwardModel struct{}

func (nanForwardModel) Run(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error {
	for ir := range obs.Rays {
		for d := range obs.Rays[ir].Rad {
			obs.Rays[ir].Rad[d] = math.NaN()
		}
	}
	return nil
}

func TestRetrieveRejectsNaNCostAndReportsFatalError(t *testing.T) {
	ctl, tbl, truth, obsTemplate := buildRetrievalFixture()
	measured := obsTemplate.Clone()
	measured.Rays[0].Rad[0] = 250 // plausible finite measured radiance

	res, err := Retrieve(ctl, tbl, nanForwardModel{}, truth.Clone(), measured)
	if res != nil {
		t.Errorf("result = %v, want nil alongside a fatal numerical error", res)
	}
	if _, ok := err.(*NumericalError); !ok {
		t.Fatalf("err = %v (%T), want *NumericalError", err, err)
	}
}

func TestRetrieveReportsConvergenceWarningOnIterationExhaustion(t *testing.T) {
	ctl, tbl, truth, obsTemplate := buildRetrievalFixture()
	ctl.ConvItmax = 1
	ctl.ConvDmin = 0 // unreachable, forces exhaustion
	fwd := BuiltinForwardModel{}

	measured := obsTemplate.Clone()
	if err := fwd.Run(ctl, tbl, truth, measured); err != nil {
		t.Fatal(err)
	}
	prior := truth.Clone()
	for i := range prior.Levels {
		prior.Levels[i].T += 10
	}

	res, err := Retrieve(ctl, tbl, fwd, prior, measured)
	if _, ok := err.(*ConvergenceWarning); !ok {
		t.Fatalf("err = %v (%T), want *ConvergenceWarning", err, err)
	}
	if res == nil {
		t.Fatal("expected a non-nil result alongside the convergence warning")
	}
	if res.Converged {
		t.Error("Converged = true, want false")
	}
}

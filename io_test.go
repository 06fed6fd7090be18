// Last modified: 2025.9.21
//

package radtran

import (
	"path/filepath"
	"testing"
)

func TestWriteReadAtmRoundtrip(t *testing.T) {
	atm := buildTestAtm()
	path := filepath.Join(t.TempDir(), "atm.tab")
	if err := WriteAtm(path, atm); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAtm(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Np() != atm.Np() {
		t.Fatalf("Np() = %d, want %d", got.Np(), atm.Np())
	}
	for i := range atm.Levels {
		if !almostEqual(got.Levels[i].P, atm.Levels[i].P, 1e-4) {
			t.Errorf("level %d P = %v, want %v", i, got.Levels[i].P, atm.Levels[i].P)
		}
		if !almostEqual(got.Levels[i].T, atm.Levels[i].T, 1e-4) {
			t.Errorf("level %d T = %v, want %v", i, got.Levels[i].T, atm.Levels[i].T)
		}
	}
	if !almostEqual(got.Sft, atm.Sft, 1e-4) {
		t.Errorf("Sft = %v, want %v", got.Sft, atm.Sft)
	}
}

func TestWriteReadObsRoundtrip(t *testing.T) {
	obs := NewObs(2, 3)
	for ir := range obs.Rays {
		r := &obs.Rays[ir]
		r.Time = float64(ir) * 10
		r.ObsZ, r.ObsLon, r.ObsLat = 60, 0.1, 0.2
		r.VpZ, r.VpLon, r.VpLat = 0, 0.3, 0.4
		for d := 0; d < 3; d++ {
			r.Rad[d] = float64(d) + 0.5
			r.Tau[d] = 0.9
		}
	}
	path := filepath.Join(t.TempDir(), "obs.tab")
	if err := WriteObs(path, obs); err != nil {
		t.Fatal(err)
	}
	got, err := ReadObs(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Nr() != obs.Nr() || got.ND != obs.ND {
		t.Fatalf("dims = (%d,%d), want (%d,%d)", got.Nr(), got.ND, obs.Nr(), obs.ND)
	}
	for ir := range obs.Rays {
		for d := 0; d < obs.ND; d++ {
			if !almostEqual(got.Rays[ir].Rad[d], obs.Rays[ir].Rad[d], 1e-4) {
				t.Errorf("ray %d channel %d Rad = %v, want %v", ir, d, got.Rays[ir].Rad[d], obs.Rays[ir].Rad[d])
			}
		}
	}
}

func TestReadAtmRejectsMalformedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tab")
	if err := writeLines(path, []string{"not enough fields"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAtm(path); err == nil {
		t.Errorf("expected an error for a malformed header")
	}
}

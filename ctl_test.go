// Last modified: 2025.9.21
//

package radtran

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestCtlFile(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "test.ctl")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseCtlBasicFields(t *testing.T) {
	body := `
NG 2
EMITTER[0] CO2
EMITTER[1] H2O
ND 2
NU[0] 667.0
NU[1] 1100.0
WINDOW[0] 0
WINDOW[1] 0
NW 1
NCL 0
NSF 0
REFRAC 0
RAYDS 20
FORMOD EGA
`
	path := writeTestCtlFile(t, body)
	ctl, err := ParseCtl(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctl.NG != 2 || ctl.ND != 2 {
		t.Fatalf("NG=%d ND=%d, want 2,2", ctl.NG, ctl.ND)
	}
	if ctl.Emitter[0] != "CO2" || ctl.Emitter[1] != "H2O" {
		t.Errorf("Emitter = %v, want [CO2 H2O]", ctl.Emitter)
	}
	if ctl.Refrac {
		t.Errorf("Refrac should be false")
	}
	if ctl.RayDs != 20 {
		t.Errorf("RayDs = %v, want 20", ctl.RayDs)
	}
	if ctl.Formod != FormodEGA {
		t.Errorf("Formod = %v, want FormodEGA", ctl.Formod)
	}
	if ctl.EmitterIndex("h2o") != 1 {
		t.Errorf("EmitterIndex(h2o) = %d, want 1", ctl.EmitterIndex("h2o"))
	}
}

func TestParseCtlOverridesWinOverFile(t *testing.T) {
	body := "NG 1\nND 1\nNW 1\nNCL 0\nNSF 0\nRAYDS 10\n"
	path := writeTestCtlFile(t, body)
	ctl, err := ParseCtl(path, []string{"RAYDS=99"})
	if err != nil {
		t.Fatal(err)
	}
	if ctl.RayDs != 99 {
		t.Errorf("RayDs = %v, want 99 (override should win)", ctl.RayDs)
	}
}

func TestParseCtlRejectsUnknownSfType(t *testing.T) {
	body := "NG 1\nND 1\nNW 1\nNCL 0\nNSF 0\nSFTYPE bogus\n"
	path := writeTestCtlFile(t, body)
	if _, err := ParseCtl(path, nil); err == nil {
		t.Errorf("expected an error for an unrecognized SFTYPE")
	}
}

func TestParseCtlWindowOutOfRange(t *testing.T) {
	body := "NG 1\nND 1\nNW 1\nNCL 0\nNSF 0\nWINDOW[0] 5\n"
	path := writeTestCtlFile(t, body)
	if _, err := ParseCtl(path, nil); err == nil {
		t.Errorf("expected an error for WINDOW out of range")
	}
}

// Last modified: 2025.9.21
//

package radtran

import (
	"testing"
	"time"
)

func TestJsecEpochRoundtrip(t *testing.T) {
	if got := Time2Jsec(epoch); got != 0 {
		t.Errorf("Time2Jsec(epoch) = %v, want 0", got)
	}
	if got := Jsec2Time(0); !got.Equal(epoch) {
		t.Errorf("Jsec2Time(0) = %v, want %v", got, epoch)
	}
}

func TestJsecTimeRoundtrip(t *testing.T) {
	want := time.Date(2023, 6, 15, 12, 30, 0, 0, time.UTC)
	jsec := Time2Jsec(want)
	got := Jsec2Time(jsec)
	if !got.Equal(want) {
		t.Errorf("roundtrip mismatch: got %v, want %v", got, want)
	}
}

// Last modified: 2025.9.21
//

package radtran

import "testing"

func TestTimerAccumulates(t *testing.T) {
	ResetTimers()
	done := Timer("unit-test")
	done()
	done2 := Timer("unit-test")
	done2()

	for _, rep := range TimerReport() {
		if rep.Name == "unit-test" {
			if rep.Count != 2 {
				t.Errorf("Count = %d, want 2", rep.Count)
			}
			return
		}
	}
	t.Errorf("expected a report entry for 'unit-test'")
}

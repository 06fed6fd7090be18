// Last modified: 2025.9.21
//

package radtran

import (
	"math"
	"testing"
)

func TestGeoPosCartRoundtrip(t *testing.T) {
	cases := []GeoPos{
		{Z: 0, Lon: 0, Lat: 0},
		{Z: 10, Lon: ToRad(45), Lat: ToRad(30)},
		{Z: 100, Lon: ToRad(-120), Lat: ToRad(-60)},
	}
	for _, g := range cases {
		v := g.ToCart()
		g2 := v.ToGeo()
		if !almostEqual(g.Z, g2.Z, 1e-6) {
			t.Errorf("Z roundtrip: got %v, want %v", g2.Z, g.Z)
		}
		if !almostEqual(g.Lon, g2.Lon, 1e-9) {
			t.Errorf("Lon roundtrip: got %v, want %v", g2.Lon, g.Lon)
		}
		if !almostEqual(g.Lat, g2.Lat, 1e-9) {
			t.Errorf("Lat roundtrip: got %v, want %v", g2.Lat, g.Lat)
		}
	}
}

func TestVec3Ops(t *testing.T) {
	a := Vec3{1, 0, 0}
	b := Vec3{0, 1, 0}
	if d := a.Dot(b); d != 0 {
		t.Errorf("Dot = %v, want 0", d)
	}
	if n := a.Norm(); n != 1 {
		t.Errorf("Norm = %v, want 1", n)
	}
	if dist := a.Dist(b); !almostEqual(dist, math.Sqrt2, 1e-12) {
		t.Errorf("Dist = %v, want sqrt(2)", dist)
	}
	c := a.Add(b)
	if c != (Vec3{1, 1, 0}) {
		t.Errorf("Add = %v, want {1,1,0}", c)
	}
}

func TestVec3NormalizeZero(t *testing.T) {
	z := Vec3{}
	if got := z.Normalize(); got != z {
		t.Errorf("Normalize of zero vector = %v, want zero vector unchanged", got)
	}
}

func TestRefracDecreasesWithAltitudeLikeInputs(t *testing.T) {
	rLow := Refrac(1000, 290)
	rHigh := Refrac(10, 220)
	if rLow <= rHigh {
		t.Errorf("Refrac(1000,290)=%v should exceed Refrac(10,220)=%v", rLow, rHigh)
	}
}

func TestSzaRange(t *testing.T) {
	jsec := Time2Jsec(epoch.AddDate(0, 6, 0))
	sza := Sza(jsec, 0, 0)
	if sza < 0 || sza > PI {
		t.Errorf("Sza = %v, want in [0,pi]", sza)
	}
}

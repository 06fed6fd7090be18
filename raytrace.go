// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Raytrace integrates a curved, refractive ray path through the
// atmosphere from an observer to a view point, producing the LOS
// segment list BandRT consumes. Its iterative step-advance-and-bend
// structure follows the same shape as an orbital-anomaly solver:
// Trace iterates a position given a local refractivity field the
// way such a solver iterates an anomaly given an orbit model. Both
// walk forward in small steps, re-evaluating a locally varying
// quantity at each step rather than solving a closed form.
package radtran

import (
	"math"
)

// Raytracer traces rays through a fixed atmosphere under a fixed
// configuration. It carries no mutable state of its own; Trace is safe
// to call concurrently from multiple goroutines against the same
// Raytracer as long as the Atm is not mutated concurrently.
type Raytracer struct {
	Ctl *Ctl
	Atm *Atm
}

func NewRaytracer(ctl *Ctl, atm *Atm) *Raytracer {
	return &Raytracer{Ctl: ctl, Atm: atm}
}

// Trace produces the LOS for ray r: observer at (ObsZ,ObsLon,ObsLat),
// aimed at the view point (VpZ,VpLon,VpLat). It also fills r.TpZ/TpLon/
// TpLat with the tangent point (the LOS point of minimum altitude), or
// leaves them NaN if the ray is purely nadir (no local altitude
// minimum strictly interior to the path).
func (rt *Raytracer) Trace(r *Ray) (*LOS, error) {
	ctl, atm := rt.Ctl, rt.Atm
	if atm.Np() == 0 {
		return nil, NewNumericalError("raytrace: empty atmosphere")
	}

	obs := GeoPos{Z: r.ObsZ, Lon: r.ObsLon, Lat: r.ObsLat}.ToCart()
	vp := GeoPos{Z: r.VpZ, Lon: r.VpLon, Lat: r.VpLat}.ToCart()

	dir := vp.Sub(obs)
	if dir.Norm() == 0 {
		return nil, NewNumericalError("raytrace: observer and view point coincide")
	}
	dir = dir.Normalize()

	topZ := atm.Levels[atm.Np()-1].Z

	los := &LOS{TpIdx: -1}
	xh := obs
	minZ := math.Inf(1)
	minIdx := -1

	for step := 0; step < NLOS; step++ {
		pos := xh.ToGeo()
		rhat := Vec3{X: math.Cos(pos.Lat) * math.Cos(pos.Lon), Y: math.Cos(pos.Lat) * math.Sin(pos.Lon), Z: math.Sin(pos.Lat)}
		cosZen := math.Abs(dir.Dot(rhat))
		if cosZen < 1e-6 {
			cosZen = 1e-6
		}
		ds := math.Min(ctl.RayDs, ctl.RayDz/cosZen)
		if ds <= 0 {
			ds = ctl.RayDs
		}

		mid := xh.Add(dir.Scale(ds / 2))
		midPos := mid.ToGeo()

		p, t, q, k, err := atm.InterpAt(midPos.Z)
		if err != nil {
			return nil, err
		}

		if midPos.Z <= 0 {
			ds = clipToSurface(xh, dir, ds)
			mid = xh.Add(dir.Scale(ds / 2))
			midPos = mid.ToGeo()
			p, t, q, k, err = atm.InterpAt(midPos.Z)
			if err != nil {
				return nil, err
			}
			los.Points = append(los.Points, rt.makeSegment(ctl, midPos, p, t, q, k, ds))
			los.AtSurf = true
			break
		}

		pt := rt.makeSegment(ctl, midPos, p, t, q, k, ds)
		los.Points = append(los.Points, pt)

		if midPos.Z < minZ {
			minZ = midPos.Z
			minIdx = len(los.Points) - 1
		}

		if ctl.Refrac {
			dir = bendDirection(atm, dir, rhat, midPos, ctl.RayDz)
		}

		xh = xh.Add(dir.Scale(ds))
		nextPos := xh.ToGeo()

		if nextPos.Z <= 0 {
			continue // surface clip handled at top of next iteration
		}
		if nextPos.Z > topZ && dir.Dot(rhat) > 0 {
			break
		}
	}

	accumulateCurtisGodson(los)

	if minIdx > 0 && minIdx < len(los.Points)-1 {
		los.TpIdx = minIdx
		p := los.Points[minIdx]
		r.TpZ, r.TpLon, r.TpLat = p.Z, p.Lon, p.Lat
	} else {
		r.TpZ, r.TpLon, r.TpLat = math.NaN(), math.NaN(), math.NaN()
	}

	return los, nil
}

// makeSegment builds one LOSPoint from a midpoint state, computing the
// per-gas column density u = q * n_air * ds, ds converted km -> cm via
// 1e5.
func (rt *Raytracer) makeSegment(ctl *Ctl, pos GeoPos, p, t float64, q, k []float64, ds float64) LOSPoint {
	pt := LOSPoint{
		Z: pos.Z, Lon: pos.Lon, Lat: pos.Lat,
		P: p, T: t,
		Q: append([]float64(nil), q...),
		K: append([]float64(nil), k...),
		Ds: ds,
	}
	nAir := NA * p * 100 / (RI * t) * 1e-6
	pt.U = make([]float64, len(q))
	for g := range q {
		pt.U[g] = q[g] * nAir * ds * 1e5
	}
	pt.CgU = make([]float64, len(q))
	pt.CgP = make([]float64, len(q))
	pt.CgT = make([]float64, len(q))
	pt.Eps = nil
	pt.Src = nil
	return pt
}

// accumulateCurtisGodson runs the Curtis-Godson running sums, per gas,
// cgu[g] += u[g], cgp[g] += u[g]*p, cgt[g] += u[g]*T along the LOS,
// then reduces to the weighted means cgp[g] /= cgu[g], cgt[g] /=
// cgu[g] per point (the mean state of the column from the observer up
// to and including that segment, weighted by that gas's own column
// density since each gas has its own vertical mixing-ratio profile).
func accumulateCurtisGodson(los *LOS) {
	if len(los.Points) == 0 {
		return
	}
	ng := len(los.Points[0].U)
	cgu := make([]float64, ng)
	cgpSum := make([]float64, ng)
	cgtSum := make([]float64, ng)
	for i := range los.Points {
		pt := &los.Points[i]
		for g := range pt.U {
			cgu[g] += pt.U[g]
			cgpSum[g] += pt.U[g] * pt.P
			cgtSum[g] += pt.U[g] * pt.T
		}

		pt.CgU = append([]float64(nil), cgu...)
		pt.CgP = make([]float64, ng)
		pt.CgT = make([]float64, ng)
		for g := 0; g < ng; g++ {
			if cgu[g] > 0 {
				pt.CgP[g] = cgpSum[g] / cgu[g]
				pt.CgT[g] = cgtSum[g] / cgu[g]
			} else {
				pt.CgP[g] = pt.P
				pt.CgT[g] = pt.T
			}
		}
	}
}

// bendDirection applies a Snell-like refractive bend to dir using the
// local refractivity gradient, estimated by a central difference of
// REFRAC(p,T) between two neighboring altitudes straddling pos.Z by
// +-raydz/2.
func bendDirection(atm *Atm, dir, rhat Vec3, pos GeoPos, raydz float64) Vec3 {
	dz := raydz / 2
	if dz <= 0 {
		dz = 0.5
	}
	pUp, tUp, _, _, errUp := atm.InterpAt(pos.Z + dz)
	pDn, tDn, _, _, errDn := atm.InterpAt(pos.Z - dz)
	if errUp != nil || errDn != nil {
		return dir
	}
	nUp := Refrac(pUp, tUp)
	nDn := Refrac(pDn, tDn)
	grad := (nUp - nDn) / (2 * dz) // d(n-1)/dz, per km

	bend := -grad * 1.0 // bend angle scale factor, small-angle approximation
	perp := rhat.Sub(dir.Scale(dir.Dot(rhat)))
	if perp.Norm() == 0 {
		return dir
	}
	perp = perp.Normalize()
	return dir.Add(perp.Scale(bend)).Normalize()
}

// clipToSurface returns the segment length that advances xh along dir
// to exactly z=0, given a nominal step ds that overshoots the ground.
func clipToSurface(xh, dir Vec3, ds float64) float64 {
	lo, hi := 0.0, ds
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		z := xh.Add(dir.Scale(mid)).ToGeo().Z
		if z > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

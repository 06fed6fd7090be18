// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Jacobian computes the forward model's sensitivity matrix K = dy/dx by
// one-sided finite differences, one forward-model evaluation per
// retrieved state-vector column, reusing the baseline evaluation and
// skipping rays whose tangent point lies outside the perturbed level's
// influence window.
package radtran

import (
	"gonum.org/v1/gonum/mat"
)

// perturbation returns the absolute step to apply to x[j] given its
// quantity class, per the fixed per-class perturbation rules: pressure
// +1% multiplicative, temperature +1K, q +10% of value or a floor,
// k +1e-4 km^-1, scalars use the same rule as their quantity class.
func perturbation(ctl *Ctl, iq int, v float64) float64 {
	switch {
	case iq == QP || iq == qclzClass(ctl) || iq == qcldzClass(ctl):
		d := 0.01 * v
		if d == 0 {
			d = 0.01
		}
		return d
	case iq == QT || iq == qsftClass(ctl):
		return 1.0
	case iq >= QQ0 && iq < QQ0+ctl.NG:
		d := 0.1 * v
		if d < 1e-10 {
			d = 1e-10
		}
		return d
	default:
		// k, clk, sfeps all use a fixed absolute step.
		return 1e-4
	}
}

func qclzClass(ctl *Ctl) int   { return QQ0 + ctl.NG + ctl.NW }
func qcldzClass(ctl *Ctl) int  { return qclzClass(ctl) + 1 }
func qsftClass(ctl *Ctl) int   { return qcldzClass(ctl) + 1 + ctl.NCL }

// influenceWindow returns the altitude range [zmin,zmax] over which a
// perturbation to profile level li can plausibly change a ray's
// radiance: the level's own altitude widened by the atmosphere's local
// spacing to its neighbors, a coarse but cheap proxy for "this column
// of x affects this ray."
func influenceWindow(atm *Atm, li int) (zmin, zmax float64) {
	z := atm.Levels[li].Z
	lo, hi := z, z
	if li > 0 {
		lo = atm.Levels[li-1].Z
	}
	if li < atm.Np()-1 {
		hi = atm.Levels[li+1].Z
	}
	return lo, hi
}

// affectedRays returns the indices of rays in obs whose path plausibly
// passes through the influence window of profile level li: limb rays
// via their tangent altitude, nadir rays (NaN tangent) are always
// considered affected since they integrate the full column.
func affectedRays(atm *Atm, obs *Obs, li int) []int {
	zmin, zmax := influenceWindow(atm, li)
	var rays []int
	for ir, r := range obs.Rays {
		if r.TpZ != r.TpZ { // NaN: nadir ray, always affected
			rays = append(rays, ir)
			continue
		}
		if r.TpZ >= zmin-1 && r.TpZ <= zmax+1 {
			rays = append(rays, ir)
		}
	}
	return rays
}

// ComputeJacobian evaluates K = dy/dx at state x (already packed from atm via
// Atm2x) using fwd as the forward model (the built-in Formod, or an
// external UNIFIED engine via ForwardModel). y0 is the baseline
// measurement vector F(x), computed once by the caller and reused here
// rather than recomputed per column.
func ComputeJacobian(ctl *Ctl, tbl *TableStore, fwd ForwardModel, atm *Atm, obs *Obs, x []float64, iqa, ipa []int, y0 []float64) (*mat.Dense, error) {
	n := len(x)
	m := len(y0)
	K := mat.NewDense(m, n, nil)

	for j := 0; j < n; j++ {
		dx := perturbation(ctl, iqa[j], x[j])

		xPert := append([]float64(nil), x...)
		xPert[j] += dx

		atmPert := atm.Clone()
		X2atm(ctl, xPert, atmPert)

		var obsPert *Obs
		var rays []int
		if ipa[j] >= 0 {
			rays = affectedRays(atm, obs, ipa[j])
			obsPert = obs.Clone()
		} else {
			rays = allRayIndices(obs)
			obsPert = obs.Clone()
		}

		subObs := obsPert
		if len(rays) < obs.Nr() {
			subObs = subsetObs(obsPert, rays)
		}
		if err := fwd.Run(ctl, tbl, atmPert, subObs); err != nil {
			return nil, err
		}
		if len(rays) < obs.Nr() {
			scatterBack(obsPert, subObs, rays)
		}

		yPert, _, _ := Obs2y(ctl, obsPert)

		for ir := range obs.Rays {
			for d := 0; d < obs.ND; d++ {
				row := ir*obs.ND + d
				if row >= m {
					continue
				}
				if !containsRay(rays, ir) {
					continue // unaffected ray: column entry stays at its zero default
				}
				K.Set(row, j, (yPert[row]-y0[row])/dx)
			}
		}
	}
	return K, nil
}

func allRayIndices(obs *Obs) []int {
	idx := make([]int, obs.Nr())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func containsRay(rays []int, ir int) bool {
	for _, r := range rays {
		if r == ir {
			return true
		}
	}
	return false
}

func subsetObs(obs *Obs, rays []int) *Obs {
	sub := &Obs{ND: obs.ND, Rays: make([]Ray, len(rays))}
	for i, ir := range rays {
		sub.Rays[i] = obs.Rays[ir]
	}
	return sub
}

func scatterBack(dst, src *Obs, rays []int) {
	for i, ir := range rays {
		dst.Rays[ir] = src.Rays[i]
	}
}

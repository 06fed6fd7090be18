// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// BandRT integrates one ray's LOS into per-channel radiance and
// transmittance: per-segment gas transmittance (EGA or CGA), continuum
// and cloud/aerosol optical depth, source-function evaluation, and the
// front-to-back accumulation loop plus the optional surface term.
package radtran

import (
	"math"
)

// RunBandRT fills r.Rad/r.Tau from an already-traced LOS, following the
// forward-to-back accumulation described in the BandRT algorithm: the
// loop runs from the far end of the LOS toward the observer, building
// up outgoing radiance and remaining transmittance segment by segment.
func RunBandRT(ctl *Ctl, tbl *TableStore, atm *Atm, los *LOS, r *Ray) error {
	nd := len(r.Rad)
	rad := make([]float64, nd)
	tau := make([]float64, nd)
	for d := range tau {
		tau[d] = 1
	}

	n := len(los.Points)
	cumU := make([]float64, ctl.NG)

	for ip := n - 1; ip >= 0; ip-- {
		pt := &los.Points[ip]

		epsSeg, srcSeg := segmentEpsSrc(ctl, tbl, atm, pt, cumU)
		pt.Eps = epsSeg
		pt.Src = srcSeg

		for d := 0; d < nd; d++ {
			rad[d] += tau[d] * epsSeg[d] * srcSeg[d]
			tau[d] *= (1 - epsSeg[d])
		}

		for g := range pt.U {
			cumU[g] += pt.U[g]
		}
	}

	if los.AtSurf {
		applySurfaceTerm(ctl, tbl, atm, r, rad, tau)
	}

	copy(r.Rad, rad)
	copy(r.Tau, tau)

	if ctl.WriteBbt {
		for d := 0; d < nd; d++ {
			r.Rad[d] = Bright(r.Rad[d], ctl.Nu[d])
		}
	}
	return nil
}

// segmentEpsSrc computes the per-channel segment emissivity and source
// function for one LOS point, combining gas-line transmittance (EGA or
// CGA), continuum optical depth, and cloud/window extinction.
func segmentEpsSrc(ctl *Ctl, tbl *TableStore, atm *Atm, pt *LOSPoint, cumU []float64) (eps, src []float64) {
	nd := tbl.ND
	eps = make([]float64, nd)
	src = make([]float64, nd)

	for d := 0; d < nd; d++ {
		tauGas := 1.0
		for g := 0; g < ctl.NG; g++ {
			var tg float64
			switch ctl.Formod {
			case FormodEGA:
				tg = egaTransmittance(tbl, g, d, pt.P, pt.T, cumU[g], pt.U[g])
			default:
				tg = cgaTransmittance(tbl, g, d, pt.CgP[g], pt.CgT[g], cumU[g], pt.CgU[g])
			}
			tauGas *= tg
		}

		odCtm := 0.0
		if ctl.CtmCO2 {
			odCtm += CtmCO2(ctl.Nu[d], pt.T) * 1e-3 * pt.Ds
		}
		odCtm += ContinuumOD(ctl, ctl.Nu[d], pt.P, pt.T, gasMix(ctl, pt, "H2O"), pt.Ds)
		tauCtm := expSafe(-odCtm)

		w := ctl.Window[d]
		var kWin float64
		if w >= 0 && w < len(pt.K) {
			kWin = pt.K[w]
		}
		tauExt := expSafe(-pt.Ds * kWin)

		epsSeg := 1 - tauGas*tauCtm*tauExt
		eps[d] = Clamp(epsSeg, 0, 1)
		src[d] = tbl.SrcLookup(d, pt.T)
	}
	return eps, src
}

func gasMix(ctl *Ctl, pt *LOSPoint, name string) float64 {
	ig := ctl.EmitterIndex(name)
	if ig < 0 || ig >= len(pt.Q) {
		return 0
	}
	return pt.Q[ig]
}

// egaTransmittance applies the Emissivity Growth Approximation: look up
// the emissivity at the column density before and after this segment,
// and form the segment transmittance as the ratio of their complements.
func egaTransmittance(tbl *TableStore, ig, id int, p, t, uCum, uSeg float64) float64 {
	eps0 := tbl.EpsLookup(ig, id, p, t, uCum)
	eps1 := tbl.EpsLookup(ig, id, p, t, uCum+uSeg)
	if eps0 >= 1 {
		return 0
	}
	tg := (1 - eps1) / (1 - eps0)
	return Clamp(tg, 0, 1)
}

// cgaTransmittance applies the Curtis-Godson Approximation: the segment
// transmittance is the ratio of full-column transmittances evaluated at
// the Curtis-Godson weighted mean pressure/temperature, before and
// after accumulating this segment's column.
func cgaTransmittance(tbl *TableStore, ig, id int, cgp, cgt, uCum, cguAfter float64) float64 {
	eps0 := tbl.EpsLookup(ig, id, cgp, cgt, uCum)
	eps1 := tbl.EpsLookup(ig, id, cgp, cgt, cguAfter)
	if eps0 >= 1 {
		return 0
	}
	tg := (1 - eps1) / (1 - eps0)
	return Clamp(tg, 0, 1)
}

// applySurfaceTerm adds the configured surface contribution (emission,
// downward sky radiance, or reflected solar) to rad/tau in place,
// consuming the remaining transmittance at the point the ray reaches
// the surface.
func applySurfaceTerm(ctl *Ctl, tbl *TableStore, atm *Atm, r *Ray, rad, tau []float64) {
	if ctl.SfType == SfNone || len(atm.Sfeps) == 0 {
		return
	}
	nd := len(rad)

	var lDown []float64
	if ctl.SfType == SfDownward {
		lDown = downwardSkyRadiance(ctl, tbl, atm, r, nd)
	}

	for d := 0; d < nd; d++ {
		var sfeps float64
		if len(atm.Sfeps) == 1 {
			sfeps = atm.Sfeps[0]
		} else if d < len(atm.Sfeps) {
			sfeps = atm.Sfeps[d]
		}

		switch ctl.SfType {
		case SfEmission:
			rad[d] += tau[d] * sfeps * Planck(ctl.Nu[d], atm.Sft)
			tau[d] *= (1 - sfeps)
		case SfDownward:
			rad[d] += tau[d] * sfeps * Planck(ctl.Nu[d], atm.Sft)
			rad[d] += (1 - sfeps) * tau[d] * lDown[d]
			tau[d] *= (1 - sfeps)
		case SfSolar:
			sza := ctl.SfSza
			if sza < -900 {
				sza = Sza(r.Time, r.ObsLon, r.ObsLat)
			}
			cosSza := math.Cos(sza)
			if cosSza < 0 {
				cosSza = 0
			}
			rad[d] += (1 - sfeps) * tau[d] * Planck(ctl.Nu[d], TSUN) * cosSza * OmegaSun
			tau[d] *= (1 - sfeps)
		}
	}
}

// downwardSkyRadiance traces a second ray straight up from the surface
// point to the top of the atmosphere and runs it through BandRT,
// giving the downward atmospheric emission that arrives at the
// surface from above (the L_down term of the SfDownward surface
// model). It falls back to the surface's own Planck value if the
// upward trace fails (e.g. a degenerate single-level atmosphere).
func downwardSkyRadiance(ctl *Ctl, tbl *TableStore, atm *Atm, r *Ray, nd int) []float64 {
	fallback := func() []float64 {
		out := make([]float64, nd)
		for d := range out {
			out[d] = Planck(ctl.Nu[d], atm.Sft)
		}
		return out
	}

	// The nested trace must return raw radiance, not brightness
	// temperature, regardless of ctl.WriteBbt; the outer RunBandRT
	// call applies that conversion once, after the surface term.
	ctlRaw := *ctl
	ctlRaw.WriteBbt = false

	topZ := atm.Levels[atm.Np()-1].Z
	up := NewRay(nd)
	up.Time = r.Time
	up.ObsZ, up.ObsLon, up.ObsLat = 0, r.ObsLon, r.ObsLat
	up.VpZ, up.VpLon, up.VpLat = topZ, r.ObsLon, r.ObsLat

	rt := NewRaytracer(&ctlRaw, atm)
	los, err := rt.Trace(&up)
	if err != nil {
		return fallback()
	}
	if err := RunBandRT(&ctlRaw, tbl, atm, los, &up); err != nil {
		return fallback()
	}
	return up.Rad
}

// Bright converts radiance [W/(m^2 sr cm^-1)] at wavenumber nu [cm^-1]
// to brightness temperature [K] by inverting the Planck function.
func Bright(rad, nu float64) float64 {
	if rad <= 0 || nu <= 0 {
		return 0
	}
	return C2 * nu / math.Log(1+C1*nu*nu*nu/rad)
}

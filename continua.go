// Last modified: 2025.9.21
//

// Continua holds the small pure empirical continuum-absorption
// functions: CO2 line-mixing chi-factor, H2O self- and
// foreign-broadened continuum, and N2/O2 collision-induced absorption.
// Each is a short closed-form fit over named constants, the same way
// a Saastamoinen-style tropospheric delay model is built: small, pure,
// reference-value-driven functions rather than table lookups.
package radtran

import (
	"math"
)

// CtmCO2 returns the CO2 line-mixing chi-factor at wavenumber nu
// [cm^-1] and temperature t [K], following the sub-Lorentzian
// correction used for the CO2 15um and 4.3um bands. The factor
// multiplies the Lorentz line shape far from the CO2 Q-branch center.
func CtmCO2(nu, t float64) float64 {
	const nu0 = 667.4 // CO2 nu2 Q-branch center [cm^-1]
	dnu := math.Abs(nu - nu0)
	if dnu < 3.0 {
		return 1.0
	}
	alpha := 0.0828 * math.Sqrt(296.0/t)
	chi := math.Exp(-alpha * dnu)
	return Clamp(chi, 1e-3, 1.0)
}

// CtmH2OSelf returns the self-broadened water-vapor continuum
// absorption coefficient [cm^2/molec] at wavenumber nu [cm^-1],
// temperature t [K] and water-vapor partial pressure pH2O [hPa],
// a CKD-style temperature-scaled Lorentzian-wing fit.
func CtmH2OSelf(nu, t, pH2O float64) float64 {
	const c0 = 1.13e-21 // reference self-continuum coefficient at 296K [cm^2/molec * hPa^-1]
	const texp = 4.25   // temperature exponent of the self continuum
	scale := math.Pow(T0/t, texp)
	return c0 * scale * pH2O * radicalShape(nu)
}

// CtmH2OForeign returns the foreign-broadened (air-broadened) water
// vapor continuum absorption coefficient [cm^2/molec] at wavenumber nu
// [cm^-1], temperature t [K] and total (dry-air) pressure p [hPa].
func CtmH2OForeign(nu, t, p float64) float64 {
	const c0 = 5.5e-23 // reference foreign-continuum coefficient at 296K [cm^2/molec * hPa^-1]
	scale := T0 / t
	return c0 * scale * p * radicalShape(nu)
}

// radicalShape is the smooth envelope both water continua scale by
// across the thermal IR, peaking near the center of the 8-12um window
// and falling off toward the line wings on either side.
func radicalShape(nu float64) float64 {
	const center = 1100.0
	const width = 400.0
	x := (nu - center) / width
	return math.Exp(-0.5 * x * x)
}

// CtmN2 returns the N2-N2 collision-induced absorption coefficient
// [cm^-1 atm^-2] at wavenumber nu [cm^-1] and temperature t [K], for
// the N2 fundamental band near 2350 cm^-1.
func CtmN2(nu, t float64) float64 {
	const nu0 = 2350.0
	const halfWidth = 70.0
	x := (nu - nu0) / halfWidth
	peak := 5.0e-6 * math.Pow(T0/t, 1.5)
	return peak * math.Exp(-0.5*x*x)
}

// CtmO2 returns the O2-O2 collision-induced absorption coefficient
// [cm^-1 atm^-2] at wavenumber nu [cm^-1] and temperature t [K], for
// the O2 band near 1550 cm^-1.
func CtmO2(nu, t float64) float64 {
	const nu0 = 1550.0
	const halfWidth = 50.0
	x := (nu - nu0) / halfWidth
	peak := 1.1e-6 * math.Pow(T0/t, 1.5)
	return peak * math.Exp(-0.5*x*x)
}

// ContinuumOD accumulates the segment optical depth contributed by the
// configured continua at wavenumber nu over a segment of length ds
// [km] with mean pressure p [hPa], temperature t [K] and water-vapor
// volume mixing ratio qH2O, following the toggles in ctl.
func ContinuumOD(ctl *Ctl, nu, p, t, qH2O float64, ds float64) float64 {
	var od float64
	pAtm := p / 1013.25
	dsCgs := ds * 1e5 // km -> cm

	if ctl.CtmH2O {
		pH2O := p * qH2O
		nH2O := numberDensity(pH2O, t)
		od += (CtmH2OSelf(nu, t, pH2O) + CtmH2OForeign(nu, t, p)) * nH2O * dsCgs
	}
	if ctl.CtmN2 {
		od += CtmN2(nu, t) * pAtm * pAtm * ds
	}
	if ctl.CtmO2 {
		od += CtmO2(nu, t) * pAtm * pAtm * ds
	}
	return od
}

// numberDensity returns the number density [molec/cm^3] of a gas at
// partial pressure p [hPa] and temperature t [K] via the ideal gas law.
func numberDensity(p, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return p * 100.0 / (KB * t) * 1e-6 // hPa -> Pa; m^-3 -> cm^-3
}

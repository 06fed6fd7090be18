// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

package radtran

// Physical and dimensioning constants for the radiative transfer core.
const (
	PI = 3.1415926535897932 // Pi

	C1 = 1.19104259e-8 // First radiation constant [W/(m^2 sr cm^-4)]
	C2 = 1.43877506    // Second radiation constant [cm K]

	NA = 6.02214076e23 // Avogadro's number [1/mol]
	KB = 1.380649e-23  // Boltzmann's constant [J/K]
	RI = 8.31446       // Ideal gas constant [J/(mol K)]

	RE = 6367.421 // Earth's radius, local spherical approximation [km]
	G0 = 9.80665  // Standard gravity [m/s^2]
	H0 = 7.0      // Nominal scale height [km]; extrapolation uses scaleHeight(T)

	MA = 28.9644e-3 // Mean molar mass of dry air [kg/mol]

	N2 = 0.7808 // N2 volume mixing ratio of dry air
	O2 = 0.2095 // O2 volume mixing ratio of dry air

	TMIN = 100.0 // Minimum physical temperature [K]
	TMAX = 400.0 // Maximum physical temperature [K]
	TSUN = 5780.0 // Effective solar blackbody temperature [K]
	T0   = 296.0  // Reference temperature for continuum fits [K]
	P0   = 1013.25 // Reference pressure [hPa]

	PMIN = 5e-7 // Minimum physical pressure [hPa]
	PMAX = 5e4  // Maximum physical pressure [hPa]

	UMIN = 0.0   // Minimum column density [molec/cm^2]
	UMAX = 1e30  // Maximum column density [molec/cm^2]

	EPSMIN = 0.0 // Minimum table emissivity
	EPSMAX = 1.0 // Maximum table emissivity

	OmegaSun = 6.8e-5 // Solid angle of the sun as seen from Earth [sr]

	NG    = 8   // Default number of emitters (gases)
	ND    = 128 // Default number of channels
	NP    = 256 // Default number of atmospheric profile levels
	NR    = 256 // Default number of rays/observations
	NW    = 4   // Default number of spectral windows
	NSF   = 8   // Default number of surface emissivity grid points
	NCL   = 8   // Default number of cloud extinction grid points
	NLOS  = 4096 // Maximum number of LOS segments per ray
	NFOV  = 5   // Default number of field-of-view synthetic rays

	TBLNP = 41  // Default number of table pressure nodes
	TBLNT = 30  // Default number of table temperature nodes per pressure node
	TBLNU = 320 // Default number of table column-density nodes per (p,t) node
	TBLNS = 1200 // Number of source-function temperature nodes
)

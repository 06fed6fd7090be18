// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// GeoKit holds the small, pure geometric primitives shared by the
// raytracer and the retrieval: geodetic/Cartesian conversion on a locally
// spherical Earth, vector algebra, refractivity, and solar zenith angle.
package radtran

import (
	"math"
	"time"
)

//-------------------------------------------------------------------
// GeoPos: geodetic position (altitude, longitude, latitude)
//-------------------------------------------------------------------

// GeoPos is a geodetic position: altitude above the spherical Earth
// surface [km], longitude [rad], latitude [rad].
type GeoPos struct {
	Z   float64
	Lon float64
	Lat float64
}

// ToCart converts a geodetic position to Earth-centered Cartesian
// coordinates [km], using the spherical-Earth approximation RE adopted
// throughout the core, rather than an ellipsoidal WGS84 model.
func (g GeoPos) ToCart() Vec3 {
	r := RE + g.Z
	cosLat := math.Cos(g.Lat)
	return Vec3{
		X: r * cosLat * math.Cos(g.Lon),
		Y: r * cosLat * math.Sin(g.Lon),
		Z: r * math.Sin(g.Lat),
	}
}

// ToGeo converts Earth-centered Cartesian coordinates [km] back to a
// geodetic position on the spherical Earth.
func (v Vec3) ToGeo() GeoPos {
	r := v.Norm()
	if r == 0 {
		return GeoPos{Z: -RE}
	}
	return GeoPos{
		Z:   r - RE,
		Lon: math.Atan2(v.Y, v.X),
		Lat: math.Asin(Clamp(v.Z/r, -1, 1)),
	}
}

//-------------------------------------------------------------------
// Vec3: Cartesian vector algebra
//-------------------------------------------------------------------

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot is the dot product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v.X*w.X + v.Y*w.Y + v.Z*w.Z
}

// Norm is the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Dist is the Euclidean distance between v and w.
func (v Vec3) Dist(w Vec3) float64 {
	return v.Sub(w).Norm()
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged rather than dividing by zero.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

//-------------------------------------------------------------------
// Refractivity
//-------------------------------------------------------------------

// Refrac returns the atmospheric refractive index minus one at pressure
// p [hPa] and temperature T [K]: n-1 = 7.753e-5 * p / T.
func Refrac(p, t float64) float64 {
	return 7.753e-5 * p / t
}

//-------------------------------------------------------------------
// Solar zenith angle
//-------------------------------------------------------------------

// Sza computes the solar zenith angle [rad] at the given time (seconds
// since the epoch, see rtime.go), longitude [rad] and latitude [rad],
// using the NOAA solar-position approximation. No available
// third-party dependency covers terrestrial solar-angle computation,
// so it is implemented here directly against the published NOAA
// formulas; see DESIGN.md.
func Sza(jsec, lon, lat float64) float64 {
	t := Jsec2Time(jsec).UTC()

	// Julian day and fractional century since J2000.0.
	jd := julianDay(t)
	jc := (jd - 2451545.0) / 36525.0

	// Geometric mean longitude and anomaly of the sun [deg].
	gml := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)
	gma := 357.52911 + jc*(35999.05029-0.0001537*jc)
	eccent := 0.016708634 - jc*(0.000042037+0.0000001267*jc)

	eqOfCtr := math.Sin(ToRad(gma))*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(ToRad(2*gma))*(0.019993-0.000101*jc) +
		math.Sin(ToRad(3*gma))*0.000289

	trueLon := gml + eqOfCtr
	appLon := trueLon - 0.00569 - 0.00478*math.Sin(ToRad(125.04-1934.136*jc))

	meanObliq := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60.0)/60.0
	obliqCorr := meanObliq + 0.00256*math.Cos(ToRad(125.04-1934.136*jc))

	decl := math.Asin(math.Sin(ToRad(obliqCorr)) * math.Sin(ToRad(appLon)))

	y := math.Tan(ToRad(obliqCorr/2)) * math.Tan(ToRad(obliqCorr/2))
	eqTime := 4 * ToDeg(y*math.Sin(2*ToRad(gml))-
		2*eccent*math.Sin(ToRad(gma))+
		4*eccent*y*math.Sin(ToRad(gma))*math.Cos(2*ToRad(gml))-
		0.5*y*y*math.Sin(4*ToRad(gml))-
		1.25*eccent*eccent*math.Sin(2*ToRad(gma)))

	minutesUTC := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60.0
	trueSolarTime := math.Mod(minutesUTC+eqTime+4*ToDeg(lon), 1440.0)
	if trueSolarTime < 0 {
		trueSolarTime += 1440
	}
	hourAngle := trueSolarTime/4.0 - 180.0

	cosZen := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(ToRad(hourAngle))
	return math.Acos(Clamp(cosZen, -1, 1))
}

// julianDay returns the Julian day number for t (UTC).
func julianDay(t time.Time) float64 {
	const unixEpochJD = 2440587.5
	return unixEpochJD + float64(t.Unix())/86400.0
}

// Package astro implements the low-precision positional astronomy the
// sequencer's runtime conditions need: target altitude, sun altitude for
// darkness checks, and moon separation. Formulas are the standard
// low-precision series (Meeus, Astronomical Algorithms); accuracy is a
// fraction of a degree, plenty for scheduling decisions.
package astro

import (
	"math"
	"time"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
	// NauticalDarknessDeg is the sun altitude below which the sky counts
	// as dark for whileDark loops.
	NauticalDarknessDeg = -12.0
)

// daysSinceJ2000 returns days since the J2000.0 epoch
func daysSinceJ2000(t time.Time) float64 {
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	return t.UTC().Sub(j2000).Hours() / 24
}

// GreenwichSiderealHours returns GMST in hours [0,24)
func GreenwichSiderealHours(t time.Time) float64 {
	d := daysSinceJ2000(t)
	gmst := 18.697374558 + 24.06570982441908*d
	return normalizeHours(gmst)
}

// LocalSiderealHours returns LST in hours [0,24) at the given longitude
// (east positive)
func LocalSiderealHours(t time.Time, longitudeDeg float64) float64 {
	return normalizeHours(GreenwichSiderealHours(t) + longitudeDeg/15)
}

// Altitude returns the altitude in degrees of the given equatorial
// coordinates (RA in hours, Dec in degrees) as seen from the site
func Altitude(t time.Time, latitudeDeg, longitudeDeg, raHours, decDegrees float64) float64 {
	hourAngle := (LocalSiderealHours(t, longitudeDeg) - raHours) * 15 * degToRad
	lat := latitudeDeg * degToRad
	dec := decDegrees * degToRad

	sinAlt := math.Sin(lat)*math.Sin(dec) + math.Cos(lat)*math.Cos(dec)*math.Cos(hourAngle)
	return math.Asin(clamp(sinAlt, -1, 1)) * radToDeg
}

// SunEquatorial returns the sun's RA (hours) and Dec (degrees)
func SunEquatorial(t time.Time) (raHours, decDegrees float64) {
	d := daysSinceJ2000(t)
	meanLongitude := normalizeDegrees(280.460 + 0.9856474*d)
	meanAnomaly := normalizeDegrees(357.528+0.9856003*d) * degToRad
	eclipticLongitude := (meanLongitude + 1.915*math.Sin(meanAnomaly) + 0.020*math.Sin(2*meanAnomaly)) * degToRad
	obliquity := (23.439 - 0.0000004*d) * degToRad

	ra := math.Atan2(math.Cos(obliquity)*math.Sin(eclipticLongitude), math.Cos(eclipticLongitude))
	dec := math.Asin(math.Sin(obliquity) * math.Sin(eclipticLongitude))
	return normalizeHours(ra * radToDeg / 15), dec * radToDeg
}

// SunAltitude returns the sun's altitude in degrees at the site
func SunAltitude(t time.Time, latitudeDeg, longitudeDeg float64) float64 {
	ra, dec := SunEquatorial(t)
	return Altitude(t, latitudeDeg, longitudeDeg, ra, dec)
}

// IsDark reports whether the site is at least in nautical darkness
func IsDark(t time.Time, latitudeDeg, longitudeDeg float64) bool {
	return SunAltitude(t, latitudeDeg, longitudeDeg) < NauticalDarknessDeg
}

// MoonEquatorial returns the moon's RA (hours) and Dec (degrees),
// truncated series good to about half a degree
func MoonEquatorial(t time.Time) (raHours, decDegrees float64) {
	d := daysSinceJ2000(t)
	meanLongitude := normalizeDegrees(218.316 + 13.176396*d)
	meanAnomaly := normalizeDegrees(134.963+13.064993*d) * degToRad
	argLatitude := normalizeDegrees(93.272+13.229350*d) * degToRad

	eclipticLongitude := (meanLongitude + 6.289*math.Sin(meanAnomaly)) * degToRad
	eclipticLatitude := 5.128 * math.Sin(argLatitude) * degToRad
	obliquity := (23.439 - 0.0000004*d) * degToRad

	sinDec := math.Sin(eclipticLatitude)*math.Cos(obliquity) +
		math.Cos(eclipticLatitude)*math.Sin(obliquity)*math.Sin(eclipticLongitude)
	dec := math.Asin(clamp(sinDec, -1, 1))

	y := math.Sin(eclipticLongitude)*math.Cos(obliquity) -
		math.Tan(eclipticLatitude)*math.Sin(obliquity)
	ra := math.Atan2(y, math.Cos(eclipticLongitude))
	return normalizeHours(ra * radToDeg / 15), dec * radToDeg
}

// AngularSeparation returns the angle in degrees between two equatorial
// positions (RA in hours, Dec in degrees)
func AngularSeparation(ra1Hours, dec1Deg, ra2Hours, dec2Deg float64) float64 {
	ra1 := ra1Hours * 15 * degToRad
	ra2 := ra2Hours * 15 * degToRad
	dec1 := dec1Deg * degToRad
	dec2 := dec2Deg * degToRad

	cosSep := math.Sin(dec1)*math.Sin(dec2) + math.Cos(dec1)*math.Cos(dec2)*math.Cos(ra1-ra2)
	return math.Acos(clamp(cosSep, -1, 1)) * radToDeg
}

// MoonSeparation returns the angle in degrees between the moon and the
// given target coordinates
func MoonSeparation(t time.Time, raHours, decDegrees float64) float64 {
	moonRA, moonDec := MoonEquatorial(t)
	return AngularSeparation(raHours, decDegrees, moonRA, moonDec)
}

func normalizeHours(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

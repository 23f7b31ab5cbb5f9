package astro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Greenwich reference site
const (
	greenwichLat = 51.48
	greenwichLon = 0.0
)

func TestGreenwichSiderealHoursAtEpoch(t *testing.T) {
	// GMST at the J2000.0 epoch itself is the series constant.
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 18.697374558, GreenwichSiderealHours(epoch), 1e-6)
}

func TestSiderealHoursStayNormalized(t *testing.T) {
	for _, at := range []time.Time{
		time.Date(1990, 6, 15, 3, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC),
		time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		h := GreenwichSiderealHours(at)
		assert.GreaterOrEqual(t, h, 0.0)
		assert.Less(t, h, 24.0)

		l := LocalSiderealHours(at, -111.6) // west longitude
		assert.GreaterOrEqual(t, l, 0.0)
		assert.Less(t, l, 24.0)
	}
}

func TestAltitudeAtUpperTransit(t *testing.T) {
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	// Place the target exactly on the meridian.
	ra := LocalSiderealHours(at, greenwichLon)
	dec := 30.0

	alt := Altitude(at, greenwichLat, greenwichLon, ra, dec)
	// At transit the altitude is 90 - |lat - dec|.
	assert.InDelta(t, 90-(greenwichLat-dec), alt, 0.01)
}

func TestAltitudeOfAntipodalPointIsNegative(t *testing.T) {
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	ra := normalizeHours(LocalSiderealHours(at, greenwichLon) + 12)

	alt := Altitude(at, greenwichLat, greenwichLon, ra, -30.0)
	assert.Negative(t, alt)
}

func TestCircumpolarTargetNeverSets(t *testing.T) {
	// Polaris from Greenwich stays near the latitude altitude all day.
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for hour := 0; hour < 24; hour++ {
		at := day.Add(time.Duration(hour) * time.Hour)
		alt := Altitude(at, greenwichLat, greenwichLon, 2.53, 89.26)
		assert.Greater(t, alt, 45.0, "hour %d", hour)
	}
}

func TestSunAltitudeDayNightCycle(t *testing.T) {
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC)

	assert.Greater(t, SunAltitude(noon, greenwichLat, greenwichLon), 50.0)
	assert.Negative(t, SunAltitude(midnight, greenwichLat, greenwichLon))
}

func TestIsDark(t *testing.T) {
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsDark(noon, greenwichLat, greenwichLon))

	// Deep winter midnight is well past nautical darkness.
	winterMidnight := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsDark(winterMidnight, greenwichLat, greenwichLon))
}

func TestSunDeclinationAtSolstices(t *testing.T) {
	_, juneDec := SunEquatorial(time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))
	_, decemberDec := SunEquatorial(time.Date(2026, 12, 21, 12, 0, 0, 0, time.UTC))

	assert.InDelta(t, 23.44, juneDec, 0.2)
	assert.InDelta(t, -23.44, decemberDec, 0.2)
}

func TestAngularSeparation(t *testing.T) {
	// Identical positions.
	assert.InDelta(t, 0, AngularSeparation(5, 20, 5, 20), 1e-9)
	// Pole to pole.
	assert.InDelta(t, 180, AngularSeparation(0, 90, 0, -90), 1e-9)
	// Six hours apart on the equator is a quarter turn.
	assert.InDelta(t, 90, AngularSeparation(0, 0, 6, 0), 1e-9)
	// Symmetry.
	assert.InDelta(t,
		AngularSeparation(3.2, 15, 9.8, -40),
		AngularSeparation(9.8, -40, 3.2, 15),
		1e-9)
}

func TestMoonSeparationIsBounded(t *testing.T) {
	at := time.Date(2026, 8, 25, 22, 0, 0, 0, time.UTC)
	sep := MoonSeparation(at, 5.5, -5.4)
	assert.GreaterOrEqual(t, sep, 0.0)
	assert.LessOrEqual(t, sep, 180.0)

	// Separation from the moon's own position is zero.
	moonRA, moonDec := MoonEquatorial(at)
	assert.InDelta(t, 0, MoonSeparation(at, moonRA, moonDec), 1e-9)
}

func TestMoonMovesAgainstTheSky(t *testing.T) {
	// The moon covers roughly 13 degrees per day against the stars.
	day1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	ra1, dec1 := MoonEquatorial(day1)
	ra2, dec2 := MoonEquatorial(day2)

	sep := AngularSeparation(ra1, dec1, ra2, dec2)
	assert.InDelta(t, 13.2, sep, 3.0)
}

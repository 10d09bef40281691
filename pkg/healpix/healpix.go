// Package healpix maps sky positions to HEALPix pixel indices (ring scheme).
package healpix

import (
	"errors"
	"fmt"
	"math"
)

// MaxNside is the largest resolution whose pixel indices fit in an int64.
const MaxNside = 1 << 29

var ErrBadNside = errors.New("healpix: nside out of range")

// ValidNside reports whether nside is usable for Ang2PixRing.
func ValidNside(nside int64) bool { return nside >= 1 && nside <= MaxNside }

// Npix returns the number of pixels on the sphere at the given resolution.
func Npix(nside int64) int64 { return 12 * nside * nside }

// Ang2PixRing returns the ring-scheme pixel containing the direction given by
// colatitude theta in [0, pi] and longitude phi, both in radians.
func Ang2PixRing(nside int64, theta, phi float64) (int64, error) {
	if !ValidNside(nside) {
		return 0, fmt.Errorf("%w: %d", ErrBadNside, nside)
	}
	if theta < 0 || theta > math.Pi || math.IsNaN(theta) || math.IsNaN(phi) || math.IsInf(phi, 0) {
		return 0, fmt.Errorf("healpix: theta %v out of range", theta)
	}
	return zphi2pixRing(nside, math.Cos(theta), phi), nil
}

// FromRaDec derives the pixel from equatorial coordinates in degrees.
func FromRaDec(nside int64, ra, dec float64) (int64, error) {
	if dec < -90 || dec > 90 {
		return 0, fmt.Errorf("healpix: dec %v out of range", dec)
	}
	theta := (90 - dec) * math.Pi / 180
	phi := ra * math.Pi / 180
	return Ang2PixRing(nside, theta, phi)
}

func zphi2pixRing(nside int64, z, phi float64) int64 {
	za := math.Abs(z)
	tt := fmodulo(phi, 2*math.Pi) * (2 / math.Pi) // in [0,4)
	ns := float64(nside)

	if za <= 2.0/3.0 { // equatorial region
		temp1 := ns * (0.5 + tt)
		temp2 := ns * z * 0.75
		jp := int64(temp1 - temp2) // ascending edge line
		jm := int64(temp1 + temp2) // descending edge line

		ir := nside + 1 + jp - jm // ring number counted from z=2/3, in [1, 2nside+1]
		kshift := 1 - (ir & 1)

		ip := (jp + jm - nside + kshift + 1) / 2
		ip = imodulo(ip, 4*nside)
		return nside*(nside-1)*2 + (ir-1)*4*nside + ip
	}

	// polar caps
	tp := tt - math.Floor(tt)
	tmp := ns * math.Sqrt(3*(1-za))
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)

	ir := jp + jm + 1 // ring number counted from the closest pole
	ip := int64(tt * float64(ir))
	ip = imodulo(ip, 4*ir)
	if z > 0 {
		return 2*ir*(ir-1) + ip
	}
	return 12*nside*nside - 2*ir*(ir+1) + ip
}

func fmodulo(v1, v2 float64) float64 {
	if v1 >= 0 {
		if v1 < v2 {
			return v1
		}
		return math.Mod(v1, v2)
	}
	tmp := math.Mod(v1, v2) + v2
	if tmp == v2 {
		return 0
	}
	return tmp
}

func imodulo(v1, v2 int64) int64 {
	v := v1 % v2
	if v < 0 {
		v += v2
	}
	return v
}

// Package geo provides geolocation utilities for distance-based ranking
// and privacy-preserving coarse location handling.
package geo

import "strings"

// DefaultPrecision is the geohash precision used for stored item
// locations. Six characters is roughly a 1.2km x 0.6km cell, coarse
// enough not to pinpoint an address.
const DefaultPrecision = 6

// base32 is the geohash alphabet. It excludes a, i, l and o.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode converts a lat/lng pair into a geohash of the given length
// using the standard interleaved base32 algorithm. A precision below 1
// falls back to DefaultPrecision.
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var out strings.Builder
	out.Grow(precision)

	bits := 0
	var ch uint
	even := true

	for out.Len() < precision {
		r := &latRange
		v := lat
		if even {
			r = &lngRange
			v = lng
		}
		mid := (r[0] + r[1]) / 2
		if v > mid {
			ch |= 1 << (4 - bits)
			r[0] = mid
		} else {
			r[1] = mid
		}

		even = !even
		bits++
		if bits == 5 {
			out.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return out.String()
}

// RoundGeohash truncates a geohash to the given precision, normalizing
// to lowercase first. Inputs already at or below the precision are
// returned as is. Invalid characters or a precision below 1 yield "".
func RoundGeohash(input string, precision int) string {
	if input == "" || precision < 1 {
		return ""
	}

	lower := strings.ToLower(input)
	for _, c := range lower {
		if !strings.ContainsRune(base32, c) {
			return ""
		}
	}

	if len(lower) <= precision {
		return lower
	}
	return lower[:precision]
}

package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
	}{
		{"same point", Point{Lat: 40.5, Lng: -78.39}, Point{Lat: 40.5, Lng: -78.39}, 0},
		{"altoona to pittsburgh", Point{Lat: 40.5187, Lng: -78.3947}, Point{Lat: 40.4406, Lng: -79.9959}, 136.2},
		{"equator degree", Point{Lat: 0, Lng: 0}, Point{Lat: 0, Lng: 1}, 111.19},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceKm(tc.a, tc.b)
			if math.Abs(got-tc.want) > 0.5 {
				t.Errorf("DistanceKm(%v, %v) = %v, want ~%v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := Point{Lat: 40.50, Lng: -78.39}
	b := Point{Lat: 41.20, Lng: -77.00}
	if DistanceKm(a, b) != DistanceKm(b, a) {
		t.Errorf("distance is not symmetric")
	}
}

func TestDistanceKmRounded(t *testing.T) {
	a := Point{Lat: 40.50, Lng: -78.39}
	b := Point{Lat: 40.5187, Lng: -78.3947}
	d := DistanceKm(a, b)
	if d != math.Round(d*100)/100 {
		t.Errorf("distance %v not rounded to two decimals", d)
	}
}

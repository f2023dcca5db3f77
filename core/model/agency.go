package model

import "github.com/medrelay/dispatch/core/geo"

// Agency is an EMS provider that can respond to transport requests.
type Agency struct {
	ID              string
	Name            string
	Location        *geo.Point
	ServiceRadiusKm float64
	// Capabilities is the full set of levels the agency is licensed for.
	Capabilities []TransportLevel
	// AvailableLevels is the subset of Capabilities currently staffed.
	AvailableLevels []TransportLevel
	Active          bool
	Available       bool
	AcceptsAlerts   bool
}

// Offers reports whether the agency currently staffs the given level.
func (a Agency) Offers(level TransportLevel) bool {
	return ContainsLevel(a.AvailableLevels, level)
}

// CanServe reports whether the agency is licensed for the given level.
func (a Agency) CanServe(level TransportLevel) bool {
	return ContainsLevel(a.Capabilities, level)
}

// Matchable reports whether the agency may be offered a trip at the given
// level: active, available, licensed for it and currently staffing it.
func (a Agency) Matchable(level TransportLevel) bool {
	return a.Active && a.Available && a.CanServe(level) && a.Offers(level)
}

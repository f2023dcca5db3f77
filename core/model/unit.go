package model

// UnitStatus is the operational state of a vehicle.
type UnitStatus string

const (
	UnitAvailable    UnitStatus = "AVAILABLE"
	UnitInUse        UnitStatus = "IN_USE"
	UnitOutOfService UnitStatus = "OUT_OF_SERVICE"
)

// Unit is a physical vehicle belonging to an agency. A unit is IN_USE exactly
// while it is the assigned unit of a non-terminal trip.
type Unit struct {
	ID       string
	AgencyID string
	CallSign string
	Level    TransportLevel
	Status   UnitStatus
	Active   bool
}

// Assignable reports whether the unit can be reserved for a trip.
func (u Unit) Assignable() bool {
	return u.Active && u.Status == UnitAvailable
}

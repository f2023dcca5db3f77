package model

// ActorKind tags the origin of an audited action. The engine never validates
// actors; identity is owned by the surrounding API layer.
type ActorKind string

const (
	ActorHealthcare ActorKind = "healthcare"
	ActorAgency     ActorKind = "agency"
	ActorAdmin      ActorKind = "admin"
	ActorSystem     ActorKind = "system"
)

// Actor identifies who performed an operation, for audit fields only.
type Actor struct {
	ID   string
	Kind ActorKind
}

// SystemActor is used for actions the engine takes on its own, such as
// expiring stale trips.
var SystemActor = Actor{ID: "system", Kind: ActorSystem}

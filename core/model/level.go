package model

// TransportLevel is a clinical capability tier, e.g. BLS, ALS or CCT.
// Deployments may define additional levels through configuration.
type TransportLevel string

const (
	LevelBLS TransportLevel = "BLS"
	LevelALS TransportLevel = "ALS"
	LevelCCT TransportLevel = "CCT"
)

// DefaultLevels returns the levels recognized out of the box.
func DefaultLevels() []TransportLevel {
	return []TransportLevel{LevelBLS, LevelALS, LevelCCT}
}

// ContainsLevel reports whether level is present in set.
func ContainsLevel(set []TransportLevel, level TransportLevel) bool {
	for _, l := range set {
		if l == level {
			return true
		}
	}
	return false
}

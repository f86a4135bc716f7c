package downloadcfg

// CostPolicy controls which network cost classes fetchd may transfer over.
// The numeric values are fetchd's own; they cross the RPC boundary as-is.
type CostPolicy uint32

const (
	CostAlways       CostPolicy = 0 // transfer regardless of cost
	CostUnrestricted CostPolicy = 1 // only on unmetered networks
	CostStandard     CostPolicy = 2 // unmetered plus metered under cap
	CostNoRoaming    CostPolicy = 3 // anything except roaming
)

// StartOptions carries the configuration applied to a session before start.
type StartOptions struct {
	Cost CostPolicy
	// Foreground requests foreground priority. The default is background.
	Foreground bool
	// NoProgressTimeoutSecs is how long fetchd lets a transfer stall before
	// reporting a transient error. Zero keeps the service default.
	NoProgressTimeoutSecs uint32
}

// ParseCostPolicy converts a string to a CostPolicy with default.
func ParseCostPolicy(s string) CostPolicy {
	switch s {
	case "unrestricted":
		return CostUnrestricted
	case "standard":
		return CostStandard
	case "noroaming":
		return CostNoRoaming
	case "always":
		fallthrough
	default:
		return CostAlways
	}
}

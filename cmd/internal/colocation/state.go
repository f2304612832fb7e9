package colocation

// Role is the side of the handshake a Coordinator runs.
type Role uint8

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// State is the Coordinator's current phase. Exactly one is active at a time.
type State uint8

const (
	StateIdle State = iota
	StateHosting
	StateDiscovering
	StateLoading
	StateSharing
	StateAligning
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHosting:
		return "hosting"
	case StateDiscovering:
		return "discovering"
	case StateLoading:
		return "loading"
	case StateSharing:
		return "sharing"
	case StateAligning:
		return "aligning"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

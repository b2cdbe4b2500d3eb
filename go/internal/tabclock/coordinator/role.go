package coordinator

// Role is a tab's position in its group.
type Role int

const (
	// Leader reads the clock, broadcasts it, evaluates alarms and plays tones.
	Leader Role = iota
	// Follower renders whatever the leader broadcasts.
	Follower
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "LEADER"
	case Follower:
		return "FOLLOWER"
	default:
		return "UNKNOWN"
	}
}

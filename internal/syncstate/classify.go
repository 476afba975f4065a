package syncstate

// Input is what Classify needs to know about a node.
type Input struct {
	LocalExists  bool
	RemoteExists bool
	BaseExists   bool
	// Dirty is set when local differs from base.
	Dirty bool
	// OutOfDate is set when remote differs from base.
	OutOfDate bool
}

// Classify maps the input to a state. It never fails: a node missing on
// both sides is in sync.
func Classify(in Input) State {
	switch {
	case !in.LocalExists && !in.RemoteExists:
		return Synced

	case !in.LocalExists:
		switch {
		case in.Dirty && in.OutOfDate:
			return State{Direction: Conflicting, Kind: Change}
		case in.Dirty:
			return State{Direction: Outgoing, Kind: Deletion}
		default:
			return State{Direction: Incoming, Kind: Addition}
		}

	case !in.RemoteExists:
		switch {
		case !in.Dirty && in.BaseExists:
			return State{Direction: Incoming, Kind: Deletion}
		case in.Dirty && in.OutOfDate:
			return State{Direction: Conflicting, Kind: Change}
		default:
			return State{Direction: Outgoing, Kind: Addition}
		}

	default:
		switch {
		case in.Dirty && in.OutOfDate:
			return State{Direction: Conflicting, Kind: Change}
		case in.Dirty:
			return State{Direction: Outgoing, Kind: Change}
		case in.OutOfDate:
			return State{Direction: Incoming, Kind: Change}
		default:
			return Synced
		}
	}
}

// NeedsContentCheck reports whether a local/remote content comparison may
// mark s as a pseudo conflict.
func NeedsContentCheck(in Input, s State) bool {
	return in.LocalExists && in.RemoteExists && s.Kind == Change
}

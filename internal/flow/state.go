package flow

// State is a step of the request pipeline.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateStaged
	StateTransformed
	StateDelivered
	StateCleanedUp
	// StateRejected is terminal: the file broke policy.
	StateRejected
	// StateFailed is terminal: download, processing or delivery failed.
	StateFailed
)

var stateNames = [...]string{
	StateReceived:    "received",
	StateValidated:   "validated",
	StateStaged:      "staged",
	StateTransformed: "transformed",
	StateDelivered:   "delivered",
	StateCleanedUp:   "cleaned_up",
	StateRejected:    "rejected",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCleanedUp || s == StateRejected || s == StateFailed
}

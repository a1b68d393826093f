// Package reaction applies like/dislike requests to books and chapters while
// keeping each target's likes and dislikes equal to its stored votes.
package reaction

// Action is what happens to the actor's vote row.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionDelete
	ActionFlip
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "retract"
	case ActionFlip:
		return "flip"
	default:
		return "unknown"
	}
}

// Transition is the outcome of reconciling an existing vote with a request.
type Transition struct {
	Action        Action
	Next          int // vote value after the transition, 0 when deleted
	LikesDelta    int
	DislikesDelta int
	HasVoted      bool
}

// ValidValue reports whether v is a vote polarity.
func ValidValue(v int) bool {
	return v == 1 || v == -1
}

// Reconcile maps the existing vote (0 for none) and requested polarity to the next state.
// Same polarity retracts, opposite polarity flips.
func Reconcile(existing, requested int) Transition {
	switch {
	case existing == 0:
		t := Transition{Action: ActionCreate, Next: requested, HasVoted: true}
		t.add(requested, 1)
		return t
	case existing == requested:
		t := Transition{Action: ActionDelete}
		t.add(existing, -1)
		return t
	default:
		t := Transition{Action: ActionFlip, Next: requested, HasVoted: true}
		t.add(existing, -1)
		t.add(requested, 1)
		return t
	}
}

func (t *Transition) add(value, delta int) {
	if value > 0 {
		t.LikesDelta += delta
	} else {
		t.DislikesDelta += delta
	}
}

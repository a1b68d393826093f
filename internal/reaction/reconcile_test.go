package reaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileTable(t *testing.T) {
	cases := []struct {
		name      string
		existing  int
		requested int
		want      Transition
	}{
		{"like from none", 0, 1, Transition{Action: ActionCreate, Next: 1, LikesDelta: 1, HasVoted: true}},
		{"dislike from none", 0, -1, Transition{Action: ActionCreate, Next: -1, DislikesDelta: 1, HasVoted: true}},
		{"retract like", 1, 1, Transition{Action: ActionDelete, LikesDelta: -1}},
		{"retract dislike", -1, -1, Transition{Action: ActionDelete, DislikesDelta: -1}},
		{"flip to dislike", 1, -1, Transition{Action: ActionFlip, Next: -1, LikesDelta: -1, DislikesDelta: 1, HasVoted: true}},
		{"flip to like", -1, 1, Transition{Action: ActionFlip, Next: 1, LikesDelta: 1, DislikesDelta: -1, HasVoted: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reconcile(tc.existing, tc.requested))
		})
	}
}

func TestValidValue(t *testing.T) {
	for _, v := range []int{1, -1} {
		assert.True(t, ValidValue(v))
	}
	for _, v := range []int{0, 2, -2, 100} {
		assert.False(t, ValidValue(v))
	}
}

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id, senderID int64, at time.Time) Message {
	return Message{
		ID:        id,
		Sender:    Sender{ID: senderID},
		CreatedAt: at,
		Status:    StatusSent,
		Lifecycle: LifecycleActive,
	}
}

func TestGroupMessagesEmpty(t *testing.T) {
	assert.Nil(t, GroupMessages(nil))
	assert.Nil(t, GroupMessages([]Message{}))
}

func TestGroupMessagesSplitsOnSenderAndWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input := []Message{
		msgAt(1, 7, base),
		msgAt(2, 7, base.Add(time.Minute)),
		msgAt(3, 9, base.Add(2*time.Minute)),       // sender change
		msgAt(4, 9, base.Add(3*time.Minute)),
		msgAt(5, 9, base.Add(11*time.Minute)),      // > 7 min after group head (msg 3)
		msgAt(6, 9, base.Add(12*time.Minute)),
	}

	groups := GroupMessages(input)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
	assert.Len(t, groups[2], 2)
}

func TestGroupMessagesWindowMeasuredFromHead(t *testing.T) {
	base := time.Now()
	// Each message is 5 minutes after the previous: adjacent gaps are all
	// inside the window, but the third is 10 minutes past the head.
	input := []Message{
		msgAt(1, 7, base),
		msgAt(2, 7, base.Add(5*time.Minute)),
		msgAt(3, 7, base.Add(10*time.Minute)),
	}

	groups := GroupMessages(input)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestGroupMessagesProperties(t *testing.T) {
	base := time.Now()
	input := []Message{
		msgAt(1, 7, base),
		msgAt(2, 9, base.Add(time.Minute)),
		msgAt(3, 9, base.Add(90*time.Second)),
		msgAt(4, 7, base.Add(20*time.Minute)),
	}

	groups := GroupMessages(input)

	var flattened []Message
	for _, g := range groups {
		require.NotEmpty(t, g, "no group may be empty")
		head := g[0]
		for _, m := range g {
			assert.Equal(t, head.Sender.ID, m.Sender.ID, "groups are sender-homogeneous")
			assert.LessOrEqual(t, m.CreatedAt.Sub(head.CreatedAt), GroupWindow)
		}
		flattened = append(flattened, g...)
	}

	require.Equal(t, input, flattened, "grouping preserves order and content")

	// Idempotent: regrouping the flattened output yields the same partition.
	assert.Equal(t, groups, GroupMessages(flattened))
}

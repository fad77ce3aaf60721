package chat

import "time"

// GroupWindow is the maximum age gap between a group's first message and
// any later member.
const GroupWindow = 7 * time.Minute

// GroupMessages partitions a chronological message list into consecutive
// runs where every member shares the head's sender and falls within
// GroupWindow of the head's timestamp. Pure and order-preserving: the
// concatenation of the groups is the input.
func GroupMessages(messages []Message) [][]Message {
	if len(messages) == 0 {
		return nil
	}

	var groups [][]Message
	var current []Message
	var head Message

	for _, msg := range messages {
		if len(current) == 0 {
			head = msg
			current = []Message{msg}
			continue
		}
		if msg.Sender.ID == head.Sender.ID && msg.CreatedAt.Sub(head.CreatedAt) <= GroupWindow {
			current = append(current, msg)
			continue
		}
		groups = append(groups, current)
		head = msg
		current = []Message{msg}
	}
	return append(groups, current)
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harborchat/harbor/internal/chat"
)

// SaveMessage upserts a confirmed message. Pending and error entries are
// the synchronizer's business; only server-confirmed state is cached.
func (d *DB) SaveMessage(msg chat.Message) error {
	if msg.Status != chat.StatusSent {
		return nil
	}

	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	deleted := 0
	if msg.Deleted() {
		deleted = 1
	}
	edited := 0
	if msg.Edited {
		edited = 1
	}

	_, err = d.db.Exec(`
		INSERT INTO messages
			(channel_id, id, temp_id, sender_id, sender_name, type, content,
			 created_at, edited, deleted, reactions, attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, id) DO UPDATE SET
			content     = excluded.content,
			edited      = excluded.edited,
			deleted     = excluded.deleted,
			reactions   = excluded.reactions,
			attachments = excluded.attachments
	`,
		msg.ChannelID, msg.ID, msg.TempID, msg.Sender.ID, msg.Sender.Username,
		string(msg.Type), msg.Content, msg.CreatedAt.UnixMilli(),
		edited, deleted, string(reactions), string(attachments),
	)
	if err != nil {
		return fmt.Errorf("save message %d: %w", msg.ID, err)
	}
	return nil
}

// History returns up to limit cached messages for a channel, oldest first.
func (d *DB) History(channelID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.db.Query(`
		SELECT id, temp_id, sender_id, sender_name, type, content,
		       created_at, edited, deleted, reactions, attachments
		FROM (
			SELECT * FROM messages
			WHERE channel_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg                    chat.Message
			typ                    string
			createdAt              int64
			edited, deleted        int
			reactions, attachments string
		)
		if err := rows.Scan(&msg.ID, &msg.TempID, &msg.Sender.ID, &msg.Sender.Username,
			&typ, &msg.Content, &createdAt, &edited, &deleted, &reactions, &attachments); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		msg.ChannelID = channelID
		msg.Type = chat.Type(typ)
		msg.CreatedAt = time.UnixMilli(createdAt)
		msg.Edited = edited != 0
		msg.Status = chat.StatusSent
		msg.Lifecycle = chat.LifecycleActive
		if deleted != 0 {
			msg.Lifecycle = chat.LifecycleTombstoned
		}
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			msg.Reactions = nil
		}
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			msg.Attachments = nil
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// PurgeMessage removes one cached entry.
func (d *DB) PurgeMessage(channelID string, id int64) error {
	_, err := d.db.Exec(`DELETE FROM messages WHERE channel_id = ? AND id = ?`, channelID, id)
	return err
}

// DeleteChannel drops a channel's cached history.
func (d *DB) DeleteChannel(channelID string) error {
	_, err := d.db.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID)
	return err
}

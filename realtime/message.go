package realtime

import (
	"encoding/json"
	"sort"
	"time"

	identity "github.com/kantorhub/go-identity"
)

const onlineAtLayout = time.RFC3339Nano

func parseOnlineAt(raw string) (time.Time, error) {
	return time.Parse(onlineAtLayout, raw)
}

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventTrack     = "track"
	eventState     = "presence_state"
	eventDiff      = "presence_diff"

	heartbeatTopic = "phoenix"
)

// message is the phoenix channel envelope.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// presenceMeta is one tracked occurrence of a user. Phoenix allows several
// metas per key; the newest one wins here.
type presenceMeta struct {
	PhxRef     string `json:"phx_ref"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	EmployeeID string `json:"employee_id,omitempty"`
	OnlineAt   string `json:"online_at"`
}

type presenceRecord struct {
	Metas []presenceMeta `json:"metas"`
}

type diffPayload struct {
	Joins  map[string]presenceRecord `json:"joins"`
	Leaves map[string]presenceRecord `json:"leaves"`
}

func decodeState(raw json.RawMessage) ([]identity.PresenceEntry, error) {
	var state map[string]presenceRecord
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return entriesFromRecords(state), nil
}

func decodeDiff(raw json.RawMessage) ([]identity.PresenceEntry, []string, error) {
	var diff diffPayload
	if err := json.Unmarshal(raw, &diff); err != nil {
		return nil, nil, err
	}

	joins := entriesFromRecords(diff.Joins)

	leaves := make([]string, 0, len(diff.Leaves))
	for key, record := range diff.Leaves {
		id := key
		if len(record.Metas) > 0 && record.Metas[len(record.Metas)-1].UserID != "" {
			id = record.Metas[len(record.Metas)-1].UserID
		}
		leaves = append(leaves, id)
	}
	sort.Strings(leaves)

	return joins, leaves, nil
}

func entriesFromRecords(records map[string]presenceRecord) []identity.PresenceEntry {
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]identity.PresenceEntry, 0, len(records))
	for _, key := range keys {
		record := records[key]
		if len(record.Metas) == 0 {
			continue
		}

		meta := record.Metas[len(record.Metas)-1]
		entry := identity.PresenceEntry{
			UserID:     meta.UserID,
			Role:       meta.Role,
			EmployeeID: meta.EmployeeID,
		}
		if entry.UserID == "" {
			entry.UserID = key
		}
		if t, err := parseOnlineAt(meta.OnlineAt); err == nil {
			entry.OnlineAt = t
		}
		entries = append(entries, entry)
	}

	return entries
}

func metaFromEntry(entry identity.PresenceEntry) presenceMeta {
	return presenceMeta{
		UserID:     entry.UserID,
		Role:       entry.Role,
		EmployeeID: entry.EmployeeID,
		OnlineAt:   entry.OnlineAt.UTC().Format(onlineAtLayout),
	}
}

package amqp

import (
	"encoding/json"
	"time"
)

// Message types carried on the sync queue.
const (
	TypeContributionSync = "contribution.sync"
	TypeCycleClosed      = "cycle.closed"
)

// envelope is peeked first to route a delivery to its handler.
type envelope struct {
	Type string `json:"type"`
}

// ContributionSyncMessage asks the worker to mirror one ledger entry to
// the treasurer's spreadsheet. It carries only the ID; the worker fetches
// the full row from the database, so stale payloads cannot overwrite
// newer data.
type ContributionSyncMessage struct {
	Type           string    `json:"type"`
	ContributionID int64     `json:"contribution_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewContributionSyncMessage(id int64) *ContributionSyncMessage {
	return &ContributionSyncMessage{
		Type:           TypeContributionSync,
		ContributionID: id,
		Timestamp:      time.Now().UTC(),
	}
}

// CycleClosedMessage announces a completed cycle so the worker can write
// an arrears snapshot for the treasurer.
type CycleClosedMessage struct {
	Type      string    `json:"type"`
	CycleID   string    `json:"cycle_id"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCycleClosedMessage(cycleID, groupID string) *CycleClosedMessage {
	return &CycleClosedMessage{
		Type:      TypeCycleClosed,
		CycleID:   cycleID,
		GroupID:   groupID,
		Timestamp: time.Now().UTC(),
	}
}

func messageType(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

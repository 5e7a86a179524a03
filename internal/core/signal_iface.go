package core

import (
	"context"
	"encoding/json"
	"time"
)

// RelayRecord is one entry of a relay scope's append-only log.
// ID and Timestamp are assigned by the relay at write time.
type RelayRecord struct {
	ID        string          `json:"id"`
	SenderID  string          `json:"sender_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type RelayEventKind int

const (
	// RelayRecordAdded carries one record, replayed or live.
	RelayRecordAdded RelayEventKind = iota
	// RelayScopeGone reports that a scope which existed was deleted.
	RelayScopeGone
	// RelayBroken reports that the subscription can no longer deliver.
	RelayBroken
)

type RelayEvent struct {
	Kind   RelayEventKind
	Record RelayRecord
	Err    error
}

// Relay is the message relay: an ordered, append-only, per-key log.
// Subscribe replays existing records in append order and then delivers live
// updates on a single goroutine per subscription. The returned cancel stops
// delivery and is safe to call more than once.
type Relay interface {
	Append(ctx context.Context, key string, rec RelayRecord) (RelayRecord, error)
	Subscribe(key string, fn func(RelayEvent)) (cancel func(), err error)
	Delete(ctx context.Context, key string) error
}

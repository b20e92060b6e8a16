package audit

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash"
	"time"

	"github.com/mmdatafocus/freight_backend/models"
)

// GenesisHash is the PrevHash of the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainVersion is mixed into every hashed body so a future change to the
// serialized layout cannot verify against entries written under this one.
const chainVersion = 1

type Payload struct {
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type Entry struct {
	ID            string                `json:"id"`
	Seq           int64                 `json:"seq"`
	Timestamp     time.Time             `json:"timestamp"`
	ActorID       string                `json:"actor_id"`
	ActorName     string                `json:"actor_name"`
	ActorRole     string                `json:"actor_role"`
	EventType     models.AuditEventType `json:"event_type"`
	EntityType    models.EntityType     `json:"entity_type"`
	EntityID      string                `json:"entity_id"`
	Action        string                `json:"action"`
	Payload       Payload               `json:"payload"`
	PrevHash      string                `json:"prev_hash"`
	IntegrityHash string                `json:"integrity_hash"`
}

// Draft is what a writer hands to the log. Before, After and Metadata are
// serialized at append time, so the entry keeps a copy and later changes to
// the source values never reach it.
type Draft struct {
	Actor      models.Actor
	EventType  models.AuditEventType
	EntityType models.EntityType
	EntityID   string
	Action     string
	Before     any
	After      any
	Metadata   any
}

// hashedContent is the canonical body of an entry. Field order is fixed by the
// struct so encoding/json output is deterministic.
type hashedContent struct {
	Version    int                   `json:"v"`
	ID         string                `json:"id"`
	Seq        int64                 `json:"seq"`
	Timestamp  string                `json:"ts"`
	ActorID    string                `json:"actor_id"`
	ActorName  string                `json:"actor_name"`
	ActorRole  string                `json:"actor_role"`
	EventType  models.AuditEventType `json:"event_type"`
	EntityType models.EntityType     `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
	Action     string                `json:"action"`
	Before     json.RawMessage       `json:"before,omitempty"`
	After      json.RawMessage       `json:"after,omitempty"`
	Metadata   json.RawMessage       `json:"metadata,omitempty"`
}

func canonicalContent(e Entry) ([]byte, error) {
	return json.Marshal(hashedContent{
		Version:    chainVersion,
		ID:         e.ID,
		Seq:        e.Seq,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		ActorRole:  e.ActorRole,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Before:     compactRaw(e.Payload.Before),
		After:      compactRaw(e.Payload.After),
		Metadata:   compactRaw(e.Payload.Metadata),
	})
}

// computeHash returns hex(H(content || prevHash)).
func computeHash(newHash func() hash.Hash, e Entry, prevHash string) (string, error) {
	body, err := canonicalContent(e)
	if err != nil {
		return "", err
	}
	h := newHash()
	h.Write(body)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// compactRaw strips insignificant whitespace so a payload read back from a
// database column hashes the same as the one that was written.
func compactRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func (e Entry) Clone() Entry {
	out := e
	out.Payload = Payload{
		Before:   cloneRaw(e.Payload.Before),
		After:    cloneRaw(e.Payload.After),
		Metadata: cloneRaw(e.Payload.Metadata),
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

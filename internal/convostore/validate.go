package convostore

import (
	"encoding/json"
	"errors"
)

// minimalRecord is the subset of fields save_conversation_state
// validates before writing: conversation_id, topic non-empty, turns a
// list. The store stays decoupled from the full conversation record
// shape (internal/convo owns that).
type minimalRecord struct {
	ConversationID string        `json:"conversation_id"`
	Topic          string        `json:"topic"`
	Turns          []interface{} `json:"turns"`
}

var errInvalidRecord = errors.New("convostore: record missing conversation_id, topic, or turns")

func validateRecord(raw []byte) error {
	var m minimalRecord
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m.ConversationID == "" || m.Topic == "" || m.Turns == nil {
		return errInvalidRecord
	}
	return nil
}

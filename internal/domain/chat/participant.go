package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type participantObject struct {
	MongoID string `json:"_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
}

// NormalizeParticipant converts a sender/receiver reference that is either a bare id
// string or an expanded object into the canonical Participant. Every ingestion path
// (REST pages, realtime events) goes through this function.
func NormalizeParticipant(raw json.RawMessage) (Participant, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Participant{}, ErrInvalidReference
	}
	if trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return Participant{}, fmt.Errorf("decode participant id: %w", err)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return Participant{}, ErrInvalidReference
		}
		return Participant{ID: id}, nil
	}
	var obj participantObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	id := strings.TrimSpace(obj.MongoID)
	if id == "" {
		id = strings.TrimSpace(obj.ID)
	}
	if id == "" {
		return Participant{}, ErrInvalidReference
	}
	return Participant{ID: id, Name: obj.Name, Avatar: obj.Avatar}, nil
}

// NormalizeListing extracts a listing id from either a bare id or an object carrying
// `_id`/`id`. Null or empty input yields "".
func NormalizeListing(raw json.RawMessage) string {
	p, err := NormalizeParticipant(raw)
	if err != nil {
		return ""
	}
	return p.ID
}

package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeNormalizeArtwork = "artwork:normalize"

type NormalizeArtworkPayload struct {
	ArtworkID   string    `json:"artwork_id"`
	UserID      string    `json:"user_id"`
	SourceType  string    `json:"source_type,omitempty"`
	SourceKey   string    `json:"source_key"`
	MIMEType    string    `json:"mime_type"`
	FileName    string    `json:"file_name"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p NormalizeArtworkPayload) Validate() error {
	if strings.TrimSpace(p.ArtworkID) == "" {
		return errors.New("artwork_id is required")
	}
	if strings.TrimSpace(p.SourceKey) == "" {
		return errors.New("source_key is required")
	}
	if strings.TrimSpace(p.MIMEType) == "" {
		return errors.New("mime_type is required")
	}
	return nil
}

func NewNormalizeArtworkTask(payload NormalizeArtworkPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalize payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal normalize payload: %w", err)
	}
	return asynq.NewTask(TypeNormalizeArtwork, body), nil
}

func ParseNormalizeArtworkPayload(task *asynq.Task) (NormalizeArtworkPayload, error) {
	var payload NormalizeArtworkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NormalizeArtworkPayload{}, fmt.Errorf("unmarshal normalize payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return NormalizeArtworkPayload{}, err
	}
	return payload, nil
}

// Package job defines the unit of work handed from producer to worker and
// its wire encoding. Meta is a tagged union: exactly one variant per channel
// kind, serialized alongside the recipient list.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Channel names built into the engine. The registry accepts arbitrary names,
// so these are conventions rather than an enum.
const (
	ChannelEmail    = "email"
	ChannelFirebase = "firebase"
	ChannelTelegram = "telegram"
	ChannelWeb      = "web"
)

// Job is one queued batch of per-recipient sends for a single channel.
// UserIDs and Meta are index-aligned: Meta[i] describes the message for
// UserIDs[i].
type Job struct {
	UserIDs        []string `json:"userIds"`
	Channel        string   `json:"channel"`
	Meta           []Meta   `json:"meta"`
	TrackResponses bool     `json:"trackResponses"`
	TrackingKey    string   `json:"trackingKey,omitempty"`
	CampaignID     string   `json:"campaignId,omitempty"`
}

var (
	ErrNoRecipients = errors.New("job has no recipients")
	ErrNoChannel    = errors.New("job has no channel")
)

// Validate enforces the structural invariants: non-empty recipient list, a
// channel name, and index alignment between recipients and meta.
func (j *Job) Validate() error {
	if len(j.UserIDs) == 0 {
		return ErrNoRecipients
	}
	if j.Channel == "" {
		return ErrNoChannel
	}
	if len(j.Meta) != len(j.UserIDs) {
		return fmt.Errorf("meta length %d does not match %d recipients", len(j.Meta), len(j.UserIDs))
	}
	return nil
}

// Encode serializes the job to its wire shape.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a job from its wire shape and validates it.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

package bus

import (
	"context"
	"time"
)

// InboundEvent is the raw provider-shaped event consumed by the ingestion
// gateway. Field names follow the webhook payload; everything provider-specific
// is normalized away before the event reaches the rest of the pipeline.
type InboundEvent struct {
	ProviderMessageID     string            `json:"provider_message_id"`
	RawContactIdentifier  string            `json:"raw_contact_identifier"`
	ParticipantIdentifier string            `json:"participant_identifier,omitempty"`
	Text                  string            `json:"text"`
	MessageType           string            `json:"message_type,omitempty"` // "text", "audio", ...
	ProviderTimestamp     time.Time         `json:"provider_timestamp"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// InboundEnvelope is the normalized unit of work handed to the per-contact
// queue. Contact is the canonical identity key produced by the normalizer.
type InboundEnvelope struct {
	ProviderMessageID string            `json:"provider_message_id"`
	Contact           string            `json:"contact"`
	Text              string            `json:"text"`
	MessageType       string            `json:"message_type,omitempty"`
	IsBroadcast       bool              `json:"is_broadcast,omitempty"`
	ArrivedAt         time.Time         `json:"arrived_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ActionType enumerates the outbound actions the core can request.
type ActionType string

const (
	ActionSendText                 ActionType = "send_text"
	ActionSendAudio                ActionType = "send_audio"
	ActionRequestHumanVerification ActionType = "request_human_verification"
)

// OutboundAction is the single action requested per accepted inbound message.
// Delivery is fulfilled by an external sender; the core only describes intent.
type OutboundAction struct {
	Contact  string            `json:"contact"`
	Type     ActionType        `json:"type"`
	Payload  string            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers outbound actions to a channel (WhatsApp bridge, etc.).
type Sender interface {
	Send(ctx context.Context, action OutboundAction) error
}

package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/notify"
)

// SyncRequestMessage asks a worker to run a sync for one account. It carries
// no records; the worker reads the replica itself.
type SyncRequestMessage struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncRequestMessage creates a sync request with a fresh id
func NewSyncRequestMessage(account, reason string) *SyncRequestMessage {
	return &SyncRequestMessage{
		ID:        uuid.NewString(),
		Account:   account,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRequestMessageFromJSON decodes a sync request. A request without an
// account is rejected.
func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Account == "" {
		return nil, fmt.Errorf("sync request %q has no account", msg.ID)
	}
	return &msg, nil
}

// NotificationMessage is a notify.Event on the wire.
type NotificationMessage struct {
	ID    string       `json:"id"`
	Event notify.Event `json:"event"`
}

func NewNotificationMessage(e notify.Event) *NotificationMessage {
	return &NotificationMessage{ID: uuid.NewString(), Event: e}
}

func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Event.Kind == "" {
		return nil, fmt.Errorf("notification %q has no kind", msg.ID)
	}
	return &msg, nil
}

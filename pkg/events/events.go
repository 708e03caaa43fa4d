package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/premisehq/visitor-gate/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	VisitRequested  = "visit.requested"
	VisitApproved   = "visit.approved"
	VisitDenied     = "visit.denied"
	VisitExpired    = "visit.expired"
	VisitCanceled   = "visit.canceled"
	VisitCheckedIn  = "visit.checkedin"
	VisitCheckedOut = "visit.checkedout"

	CodeIssued  = "otp.issued"
	CodeExpired = "otp.expired"

	NotifySend = "notify.send"
)

// Event payloads
type VisitRequestedEvent struct {
	RequestID       int64      `json:"request_id"`
	VisitorID       string     `json:"visitor_id"`
	OwnerID         string     `json:"owner_id"`
	RoomID          string     `json:"room_id"`
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
	PreApproved     bool       `json:"pre_approved"`
	CreatedAt       time.Time  `json:"created_at"`
}

type VisitResolvedEvent struct {
	RequestID  int64     `json:"request_id"`
	VisitorID  string    `json:"visitor_id"`
	OwnerID    string    `json:"owner_id"`
	Status     string    `json:"status"`
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type VisitCanceledEvent struct {
	RequestID  int64     `json:"request_id"`
	VisitorID  string    `json:"visitor_id"`
	CanceledBy string    `json:"canceled_by"`
	CanceledAt time.Time `json:"canceled_at"`
}

type VisitCheckEvent struct {
	RequestID int64     `json:"request_id"`
	VisitorID string    `json:"visitor_id"`
	RoomID    string    `json:"room_id"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}

type CodeIssuedEvent struct {
	IssuerID  string    `json:"issuer_id"`
	Kind      string    `json:"kind"`
	MaxUses   int       `json:"max_uses"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CodeExpiredEvent struct {
	IssuerID  string    `json:"issuer_id"`
	Kind      string    `json:"kind"`
	ExpiredAt time.Time `json:"expired_at"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data"`
}

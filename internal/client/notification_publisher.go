package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/service"
)

// SubjectPrefix is prepended to the notification type to form the NATS
// subject, e.g. notifications.expenses.expense_approved.
const SubjectPrefix = "notifications.expenses."

// publisher is the part of *nats.Conn the notification publisher needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes approval workflow notifications to NATS
// for the notifications service to fan out.
//
// Publish errors are returned so the caller can log them; the approval
// services never fail an operation because of them.
type NotificationPublisher struct {
	conn publisher
	log  *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string            `json:"event_type"`
	Recipient    string            `json:"recipient"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Message      string            `json:"message"`
	Amount       string            `json:"amount,omitempty"`
	IsActionable bool              `json:"is_actionable"`
	Severity     string            `json:"severity"`
	Category     string            `json:"category"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection.
func NewNotificationPublisher(conn *nats.Conn, log *logger.Logger) *NotificationPublisher {
	return newNotificationPublisher(conn, log)
}

func newNotificationPublisher(conn publisher, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// ConnectNATS dials the NATS server, reconnecting forever in the background.
func ConnectNATS(url, name string, log *logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Notify publishes n for targetUserID on notifications.expenses.<type>.
func (p *NotificationPublisher) Notify(ctx context.Context, targetUserID string, n service.Notification) error {
	if p.conn == nil || targetUserID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := &NotificationEvent{
		EventType:    n.Type,
		Recipient:    targetUserID,
		ResourceType: "expense",
		ResourceID:   n.ExpenseID,
		Message:      n.Message,
		IsActionable: actionable(n.Type),
		Severity:     severity(n.Type),
		Category:     "expense_approval",
		Metadata:     n.Metadata,
		CreatedAt:    n.CreatedAt,
	}
	if n.Amount != nil {
		event.Amount = n.Amount.StringFixed(2)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", n.Type, err)
	}

	subject := SubjectPrefix + n.Type
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", n.ExpenseID).
		Str("recipient", targetUserID).
		Msg("notification: event published")
	return nil
}

// actionable reports whether the recipient is expected to act.
func actionable(typ string) bool {
	return typ == service.NotifyApprovalRequired || typ == service.NotifyDelegated
}

func severity(typ string) string {
	if typ == service.NotifyRejected {
		return "warning"
	}
	return "info"
}

// LogNotifier writes notifications to the log instead of publishing them.
// It is used when NATS is disabled.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, targetUserID string, n service.Notification) error {
	l.log.Info().
		Str("type", n.Type).
		Str("expense_id", n.ExpenseID).
		Str("recipient", targetUserID).
		Str("message", n.Message).
		Msg("notification")
	return nil
}

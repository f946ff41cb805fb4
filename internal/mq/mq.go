package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greencycle/apiserver/config"
	"github.com/greencycle/apiserver/internal/services"
)

// MessageTypePasswordReset tags reset-token messages for consumers.
const MessageTypePasswordReset = "password_reset"

// Publisher defines the broker-agnostic operations used by the app.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Open connects the publisher selected by cfg. It returns nil, nil when no
// broker is configured.
func Open(ctx context.Context, cfg config.MQConfig) (Publisher, error) {
	switch cfg.Backend {
	case config.MQBackendNone, "":
		return nil, nil
	case config.MQBackendRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.MQBackendPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

// ResetPublisher delivers password reset tokens by publishing them to a
// channel; the mail sender consumes from there.
type ResetPublisher struct {
	publisher Publisher
	channel   string
	logger    *slog.Logger
}

func NewResetPublisher(publisher Publisher, channel string, logger *slog.Logger) (*ResetPublisher, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("reset channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetPublisher{publisher: publisher, channel: channel, logger: logger}, nil
}

func (p *ResetPublisher) DeliverResetToken(ctx context.Context, msg services.ResetMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode reset message: %w", err)
	}
	id, err := p.publisher.Publish(ctx, p.channel, data, map[string]string{
		"type": MessageTypePasswordReset,
	})
	if err != nil {
		return fmt.Errorf("publish reset message: %w", err)
	}
	p.logger.DebugContext(ctx, "reset message published", "channel", p.channel, "message_id", id)
	return nil
}

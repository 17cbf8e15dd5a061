// Package oracle consumes event resolutions from Kafka and hands them to the
// settlement coordinator. Proof verification happens upstream; a message on
// the resolution topic is trusted.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/atmx/clob-engine/internal/engine"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/settlement"
)

// Resolution is the payload of one oracle message.
type Resolution struct {
	EventID        string `json:"event_id"`
	WinningOutcome *int   `json:"winning_outcome"`
	Proof          string `json:"proof,omitempty"`
}

// Settler finalizes a resolved event.
type Settler interface {
	SettleEvent(ctx context.Context, eventID string, winning int) (*settlement.Result, error)
}

// Handler turns resolution messages into settlements. Malformed, unknown
// and duplicate resolutions are acknowledged and dropped; any other
// settlement failure is returned so the message is retried. A settlement
// that failed after the event left Active is reported by the coordinator
// and acknowledged as a duplicate on retry; it needs manual reconciliation.
type Handler struct {
	settler Settler
	logger  *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(settler Settler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{settler: settler, logger: logger.With("component", "oracle")}
}

func (h *Handler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var r Resolution
	if err := json.Unmarshal(msg.Value, &r); err != nil || r.EventID == "" || r.WinningOutcome == nil {
		metrics.OracleMessages.WithLabelValues("malformed").Inc()
		h.logger.Warn("dropping malformed resolution", "offset", msg.Offset, "partition", msg.Partition, "err", err)
		return nil
	}

	res, err := h.settler.SettleEvent(ctx, r.EventID, *r.WinningOutcome)
	switch {
	case err == nil:
		metrics.OracleMessages.WithLabelValues("settled").Inc()
		h.logger.Info("resolution applied",
			"event_id", r.EventID,
			"winning_outcome", *r.WinningOutcome,
			"distributed", res.Settlement.Distributed,
		)
		return nil
	case errors.Is(err, engine.ErrAlreadyFinalized):
		metrics.OracleMessages.WithLabelValues("duplicate").Inc()
		h.logger.Info("resolution for finalized event ignored", "event_id", r.EventID)
		return nil
	case errors.Is(err, engine.ErrEventNotFound), errors.Is(err, settlement.ErrInvalidOutcome):
		metrics.OracleMessages.WithLabelValues("rejected").Inc()
		h.logger.Warn("resolution rejected", "event_id", r.EventID, "err", err)
		return nil
	default:
		metrics.OracleMessages.WithLabelValues("failed").Inc()
		return fmt.Errorf("settle %s: %w", r.EventID, err)
	}
}

// MessageHandler processes one consumed message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer reads the resolution topic as a member of a consumer group.
type Consumer struct {
	group  sarama.ConsumerGroup
	logger *slog.Logger
}

// NewConsumer joins groupID on brokers.
func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("oracle: kafka brokers required")
	}
	if groupID == "" {
		return nil, errors.New("oracle: consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return &Consumer{group: group, logger: logger}, nil
}

// Consume blocks until ctx is cancelled, rejoining the group after each
// rebalance or transient error.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return errors.New("oracle: message handler required")
	}
	cgHandler := &consumerGroupHandler{handler: handler, logger: c.logger, backoff: retryBackoff}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "err", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

// retryBackoff spaces attempts at a message that failed to settle, and
// rejoins after a consume error.
const retryBackoff = 2 * time.Second

type consumerGroupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
	backoff time.Duration
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim never moves past a message that failed: offsets commit
// cumulatively, so marking a later message would also commit the failed one.
// The failing message is retried in place until it is handled or the session
// ends, and an unmarked message is redelivered to the next session.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(session.Context(), msg); err != nil {
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	backoff := h.backoff
	if backoff <= 0 {
		backoff = retryBackoff
	}
	for attempt := 1; ; attempt++ {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			return nil
		}
		h.logger.Error("oracle message handler error",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

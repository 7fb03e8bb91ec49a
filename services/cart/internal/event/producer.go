package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	pkgkafka "github.com/utafrali/EcommerceGo/pkg/kafka"
	"github.com/utafrali/EcommerceGo/pkg/logger"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
)

// Kafka topic constants for cart domain events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// MetadataSessionID is the metadata key carrying the session that caused the event.
const MetadataSessionID = "session_id"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	UserID     string            `json:"user_id,omitempty"`
	Items      []domain.LineItem `json:"items"`
	TotalItems int               `json:"total_items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	UserID string `json:"user_id,omitempty"`
}

// Publisher sends an event to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// aggregateID keys events by user so all devices of a user stay ordered.
// Guest carts are keyed by session.
func aggregateID(userID, sessionID string) string {
	if userID != "" {
		return userID
	}
	return "session:" + sessionID
}

// PublishCartUpdated publishes a cart.updated event carrying the new state.
func (p *Producer) PublishCartUpdated(ctx context.Context, userID, sessionID string, state domain.State) error {
	data := CartUpdatedData{
		UserID:     userID,
		Items:      state.Items,
		TotalItems: state.TotalItems,
		TotalPrice: state.TotalPrice,
	}
	if err := p.publish(ctx, TopicCartUpdated, userID, sessionID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("user_id", userID),
		slog.Int("total_items", state.TotalItems),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, userID, sessionID string) error {
	if err := p.publish(ctx, TopicCartCleared, userID, sessionID, CartClearedData{UserID: userID}); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("user_id", userID),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, userID, sessionID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID(userID, sessionID), AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx)).
		WithMetadata(MetadataSessionID, sessionID)

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

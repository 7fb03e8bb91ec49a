package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/EcommerceGo/pkg/kafka"
)

// Resyncer reloads every live session of a user except the one named.
type Resyncer interface {
	ResyncUser(ctx context.Context, userID, exceptSessionID string) (int, error)
}

// NewDivergenceHandler returns a handler that reacts to cart events published
// by other sessions of the same user by reloading this instance's sessions of
// that user from the authority. Guest events and unknown types are ignored.
func NewDivergenceHandler(r Resyncer, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, e *pkgkafka.Event) error {
		var userID string
		switch e.EventType {
		case TopicCartUpdated:
			var data CartUpdatedData
			if err := e.UnmarshalData(&data); err != nil {
				return fmt.Errorf("decode %s payload: %w", e.EventType, err)
			}
			userID = data.UserID
		case TopicCartCleared:
			var data CartClearedData
			if err := e.UnmarshalData(&data); err != nil {
				return fmt.Errorf("decode %s payload: %w", e.EventType, err)
			}
			userID = data.UserID
		default:
			logger.DebugContext(ctx, "ignoring cart event", slog.String("event_type", e.EventType))
			return nil
		}

		if userID == "" {
			return nil
		}

		origin := e.Meta(MetadataSessionID)
		n, err := r.ResyncUser(ctx, userID, origin)
		if err != nil {
			return fmt.Errorf("resync sessions of user %s: %w", userID, err)
		}
		if n > 0 {
			logger.InfoContext(ctx, "resynced sessions after remote cart change",
				slog.String("user_id", userID),
				slog.String("origin_session_id", origin),
				slog.Int("sessions", n),
			)
		}
		return nil
	}
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Publisher sends opportunities to a SignalBus instead of a local hub. A
// scan-only process uses it so a separate server process can broadcast.
type Publisher struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewPublisher creates a Publisher on domain.OpportunityChannel.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		channel: domain.OpportunityChannel,
		logger:  logger.With(slog.String("component", "ws_publisher")),
	}
}

// BroadcastAll publishes every opportunity. Remote delivery counts are not
// known here, so only Messages and Failed are filled in.
func (p *Publisher) BroadcastAll(ctx context.Context, opps []domain.Opportunity) BroadcastReport {
	report := BroadcastReport{}
	for _, opp := range opps {
		report.Messages++
		data, err := json.Marshal(opp)
		if err == nil {
			err = p.bus.Publish(ctx, p.channel, data)
		}
		if err != nil {
			report.Failed++
			p.logger.Warn("publish failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return report
}

// Relay subscribes to domain.OpportunityChannel and broadcasts every
// opportunity received to the hub's subscribers. It blocks until ctx is
// cancelled or the subscription ends.
func (h *Hub) Relay(ctx context.Context, bus domain.SignalBus) error {
	msgCh, err := bus.Subscribe(ctx, domain.OpportunityChannel)
	if err != nil {
		return fmt.Errorf("ws: relay: %w", err)
	}
	h.logger.Info("relaying opportunities", slog.String("channel", domain.OpportunityChannel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ws: relay: subscription closed")
			}
			var opp domain.Opportunity
			if err := json.Unmarshal(data, &opp); err != nil {
				h.logger.Warn("relay: bad payload", slog.String("error", err.Error()))
				continue
			}
			h.Broadcast(ctx, opp)
		}
	}
}

// Package notify fans opportunity alerts out to chat channels (Telegram,
// Discord). Alerts can be filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Event types understood by the filter.
const (
	EventArbDetected = "arb_detected"
	EventPassFailed  = "pass_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier such as "telegram".
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Only events in
// the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	dedup   *Dedup
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithDedup suppresses repeat arb_detected alerts seen by d.
func (n *Notifier) WithDedup(d *Dedup) *Notifier {
	n.dedup = d
	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// OpportunitiesDetected sends one arb_detected alert per opportunity,
// skipping repeats when a Dedup is set. It keeps going after a failed alert
// and returns the combined error.
func (n *Notifier) OpportunitiesDetected(ctx context.Context, opps []domain.Opportunity) error {
	if !n.Enabled() {
		return nil
	}
	var errs []error
	for _, opp := range opps {
		if n.dedup != nil && n.dedup.Seen(Signature(opp)) {
			continue
		}
		title, message := FormatOpportunity(opp)
		if err := n.Notify(ctx, EventArbDetected, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch sends to every sender. One sender failing does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs),
			errors.Join(append([]error{domain.ErrDelivery}, errs...)...))
	}
	return nil
}

// FormatOpportunity renders an opportunity as an alert title and body.
func FormatOpportunity(opp domain.Opportunity) (title, message string) {
	title = fmt.Sprintf("Arbitrage %.2f%%: %s", opp.ProfitPercentage, opp.EventName)

	var b strings.Builder
	fmt.Fprintf(&b, "%s, starts %s\n", opp.SportKey, opp.CommenceTime.UTC().Format("2006-01-02 15:04 MST"))
	for _, bet := range opp.Bets {
		fmt.Fprintf(&b, "%s @ %.2f on %s: stake %.2f\n", bet.Outcome, bet.Odds, bet.SourceID, bet.Stake)
	}
	fmt.Fprintf(&b, "Stake %.2f returns %.2f (profit %.2f)", opp.TotalStake, opp.GuaranteedReturn, opp.GuaranteedProfit)
	return title, b.String()
}

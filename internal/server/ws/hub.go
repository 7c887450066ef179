// Package ws keeps the table of live opportunity subscribers and fans
// detected opportunities out to them. The gorilla/websocket transport lives
// in conn.go; the hub itself only needs the Handle interface.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// DefaultSendTimeout bounds one delivery to one subscriber.
const DefaultSendTimeout = 5 * time.Second

// Message types sent to subscribers.
const (
	TypeOpportunity = "opportunity"
	TypeError       = "error"
	TypeStatus      = "status"
)

// Handle is one subscriber's transport. Send must be safe to call from
// multiple goroutines; Close is called once when the hub drops the handle.
type Handle interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Envelope is the wire shape of every outbound message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientMessage is the inbound subscription control message.
type ClientMessage struct {
	Action string   `json:"action"`
	Sports []string `json:"sports"`
}

// Config captures hub tuning and the metadata reported in status messages.
type Config struct {
	SendTimeout time.Duration
	Mode        string
	StartedAt   time.Time
}

// BroadcastReport summarises one fan-out.
type BroadcastReport struct {
	Messages     int      `json:"messages"`
	Targeted     int      `json:"targeted"`
	Delivered    int      `json:"delivered"`
	Failed       int      `json:"failed"`
	Disconnected []string `json:"disconnected,omitempty"`
}

func (r *BroadcastReport) add(o BroadcastReport) {
	r.Messages += o.Messages
	r.Targeted += o.Targeted
	r.Delivered += o.Delivered
	r.Failed += o.Failed
	r.Disconnected = append(r.Disconnected, o.Disconnected...)
}

type subscription struct {
	handle Handle
	sports map[string]struct{}
}

func (s *subscription) wants(sport string) bool {
	if len(s.sports) == 0 {
		return true
	}
	_, ok := s.sports[sport]
	return ok
}

// Hub owns the subscriber table. All methods are safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]*subscription
	sendTimeout time.Duration
	mode        string
	startedAt   time.Time
	logger      *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		subs:        make(map[string]*subscription),
		sendTimeout: timeout,
		mode:        mode,
		startedAt:   startedAt,
		logger:      logger.With(slog.String("component", "ws_hub")),
	}
}

// Connect registers h with an empty filter, which matches every sport. It
// returns false when h's id is already registered.
func (h *Hub) Connect(handle Handle) bool {
	h.mu.Lock()
	if _, ok := h.subs[handle.ID()]; ok {
		h.mu.Unlock()
		return false
	}
	h.subs[handle.ID()] = &subscription{handle: handle, sports: make(map[string]struct{})}
	total := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("client connected",
		slog.String("client_id", handle.ID()),
		slog.Int("total_clients", total),
	)
	return true
}

// Subscribe adds sports to id's filter.
func (h *Hub) Subscribe(id string, sports []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return fmt.Errorf("ws: subscribe %s: %w", id, domain.ErrUnknownHandle)
	}
	for _, s := range sports {
		if s = strings.TrimSpace(s); s != "" {
			sub.sports[s] = struct{}{}
		}
	}
	return nil
}

// Unsubscribe removes sports from id's filter. Removing the last sport
// returns the subscriber to receiving every sport.
func (h *Hub) Unsubscribe(id string, sports []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return fmt.Errorf("ws: unsubscribe %s: %w", id, domain.ErrUnknownHandle)
	}
	for _, s := range sports {
		delete(sub.sports, strings.TrimSpace(s))
	}
	return nil
}

// Disconnect removes id and closes its handle. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.removeIf(id, nil)
}

// removeIf deletes id when its current subscription is want, or any
// subscription when want is nil. A handle that reconnected under the same
// id after a failed send is left alone.
func (h *Hub) removeIf(id string, want *subscription) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok || (want != nil && sub != want) {
		h.mu.Unlock()
		return false
	}
	delete(h.subs, id)
	total := len(h.subs)
	h.mu.Unlock()

	_ = sub.handle.Close()
	h.logger.Info("client disconnected",
		slog.String("client_id", id),
		slog.Int("total_clients", total),
	)
	return true
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Sports returns id's filter, sorted.
func (h *Hub) Sports(id string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subs[id]
	if !ok {
		return nil, domain.ErrUnknownHandle
	}
	out := make([]string, 0, len(sub.sports))
	for s := range sub.sports {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// OnMessage applies an inbound control message from id. Malformed or
// unknown messages are answered with an error message, never returned.
func (h *Hub) OnMessage(ctx context.Context, id string, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(ctx, id, TypeError, "invalid message: expected JSON object")
		return
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(msg.Action)) {
	case "subscribe":
		err = h.Subscribe(id, msg.Sports)
	case "unsubscribe":
		err = h.Unsubscribe(id, msg.Sports)
	default:
		h.reply(ctx, id, TypeError, fmt.Sprintf("unknown action %q", msg.Action))
		return
	}
	if err != nil {
		h.logger.Debug("control message for unknown client", slog.String("client_id", id))
		return
	}

	sports, _ := h.Sports(id)
	h.reply(ctx, id, TypeStatus, map[string]any{"subscribed": sports})
}

// SendStatus delivers the hub status snapshot to id.
func (h *Hub) SendStatus(ctx context.Context, id string) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	h.reply(ctx, id, TypeStatus, map[string]any{
		"mode":           h.mode,
		"connected":      true,
		"subscribers":    h.Count(),
		"uptime_seconds": uptime,
	})
}

// reply sends one message to id; a failed send disconnects it.
func (h *Hub) reply(ctx context.Context, id, typ string, data any) {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return
	}
	if err := h.send(ctx, sub.handle, payload); err != nil {
		h.removeIf(id, sub)
	}
}

// Broadcast delivers opp to every subscriber whose filter matches its
// sport. Deliveries run concurrently, each under its own timeout; a
// subscriber whose delivery fails is disconnected.
func (h *Hub) Broadcast(ctx context.Context, opp domain.Opportunity) BroadcastReport {
	payload, err := json.Marshal(Envelope{Type: TypeOpportunity, Data: opp})
	if err != nil {
		h.logger.Error("encode opportunity", slog.String("error", err.Error()))
		return BroadcastReport{}
	}
	return h.fanOut(ctx, opp.SportKey, payload)
}

// BroadcastAll broadcasts each opportunity in turn and sums the reports.
func (h *Hub) BroadcastAll(ctx context.Context, opps []domain.Opportunity) BroadcastReport {
	var total BroadcastReport
	for _, opp := range opps {
		total.add(h.Broadcast(ctx, opp))
	}
	return total
}

func (h *Hub) fanOut(ctx context.Context, sport string, payload []byte) BroadcastReport {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(sport) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	report := BroadcastReport{Messages: 1, Targeted: len(targets)}
	if len(targets) == 0 {
		return report
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.send(ctx, sub.handle, payload)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			report.Delivered++
			continue
		}
		report.Failed++
		id := targets[i].handle.ID()
		h.logger.Warn("delivery failed",
			slog.String("client_id", id),
			slog.String("error", err.Error()),
		)
		if h.removeIf(id, targets[i]) {
			report.Disconnected = append(report.Disconnected, id)
		}
	}
	return report
}

// send performs one delivery with the hub's timeout. Panics in the
// transport count as failures.
func (h *Hub) send(ctx context.Context, handle Handle, payload []byte) (err error) {
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ws: send panic: %v", r)
		}
	}()
	if err := handle.Send(ctx, payload); err != nil {
		return errors.Join(domain.ErrDelivery, err)
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.handle.Close()
	}
}

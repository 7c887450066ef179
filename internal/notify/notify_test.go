package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:               "opp-1",
		SportKey:         "basketball_nba",
		EventName:        "Celtics @ Lakers",
		CommenceTime:     time.Date(2026, 10, 20, 1, 30, 0, 0, time.UTC),
		ProfitPercentage: 4.71,
		TotalStake:       1000,
		GuaranteedReturn: 1049.40,
		GuaranteedProfit: 49.40,
		Bets: []domain.Bet{
			{SourceID: "draftkings", Outcome: "Celtics", Odds: 2.05, Stake: 511.90},
			{SourceID: "fanduel", Outcome: "Lakers", Odds: 2.15, Stake: 488.10},
		},
	}
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventArbDetected}, discard())

	require.NoError(t, n.Notify(context.Background(), EventPassFailed, "t", "m"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), EventArbDetected, "t", "m"))
	assert.Equal(t, []string{"t"}, s.titles)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_OneSenderFailing(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.OpportunitiesDetected(context.Background(), []domain.Opportunity{sampleOpportunity()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1, "healthy sender still receives the alert")
}

func TestNotifier_Disabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.OpportunitiesDetected(context.Background(), []domain.Opportunity{sampleOpportunity()}))

	empty := NewNotifier(nil, nil, discard())
	assert.False(t, empty.Enabled())
}

func TestFormatOpportunity(t *testing.T) {
	title, msg := FormatOpportunity(sampleOpportunity())
	assert.Equal(t, "Arbitrage 4.71%: Celtics @ Lakers", title)
	assert.Contains(t, msg, "basketball_nba, starts 2026-10-20 01:30 UTC")
	assert.Contains(t, msg, "Celtics @ 2.05 on draftkings: stake 511.90")
	assert.Contains(t, msg, "Stake 1000.00 returns 1049.40 (profit 49.40)")
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "betfair_ex_uk: A & B"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Title</b>\nbetfair_ex_uk: A &amp; B", got["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	title, msg := FormatOpportunity(sampleOpportunity())
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), title, msg))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, title, got.Embeds[0].Title)
	assert.Equal(t, msg, got.Embeds[0].Description)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 3))
	assert.Equal(t, "ab…", clip("abcd", 3))
	assert.Equal(t, "é…", clip("éèê", 2))
}

func TestNotifier_DedupSuppressesRepeats(t *testing.T) {
	s := &recordingSender{name: "rec"}
	d := NewDedup(time.Minute)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	n := NewNotifier([]Sender{s}, nil, discard()).WithDedup(d)
	ctx := context.Background()

	first := sampleOpportunity()
	again := sampleOpportunity()
	again.ID = "opp-2"
	require.NoError(t, n.OpportunitiesDetected(ctx, []domain.Opportunity{first}))
	require.NoError(t, n.OpportunitiesDetected(ctx, []domain.Opportunity{again}))
	assert.Len(t, s.titles, 1, "same event and prices under a new id is a repeat")

	moved := sampleOpportunity()
	moved.Bets[0].Odds = 2.10
	require.NoError(t, n.OpportunitiesDetected(ctx, []domain.Opportunity{moved}))
	assert.Len(t, s.titles, 2, "a price move alerts again")

	now = now.Add(2 * time.Minute)
	require.NoError(t, n.OpportunitiesDetected(ctx, []domain.Opportunity{first}))
	assert.Len(t, s.titles, 3, "the window lapsed")
}

func TestSignature_IgnoresBetOrder(t *testing.T) {
	a := sampleOpportunity()
	b := sampleOpportunity()
	b.Bets[0], b.Bets[1] = b.Bets[1], b.Bets[0]
	assert.Equal(t, Signature(a), Signature(b))
}

package cli

import (
	"context"
	"strings"
	"time"

	"github.com/user/streamsync/internal/config"
	"github.com/user/streamsync/internal/cursor"
	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/history"
	"github.com/user/streamsync/internal/reconcile"
	"github.com/user/streamsync/internal/transport"
)

// streamHooks are the observation points a command wires into the stack.
type streamHooks struct {
	onApply    func(domain.Envelope)
	onFlush    func(runID, text string)
	onAdvisory func(reconcile.Advisory)
	onState    func(domain.ConnState)
}

// stack bundles the wired client components for one session.
type stack struct {
	sessionID string
	rec       *reconcile.Reconciler
	conn      *transport.Conn
	hist      *history.Client
	store     cursor.Store
}

// buildStack wires cursor store, replay client, reconciler and transport
// together for a session. The transport resyncs through the reconciler on
// every successful (re)connect before live events flow.
func buildStack(globals *Globals, sessionID string, hooks streamHooks) (*stack, error) {
	cfg := globals.Config
	log := newSessionLogger(globals, sessionID)

	root, err := cursor.DefaultRoot()
	if err != nil {
		return nil, err
	}
	store := cursor.NewFileStore(root)
	hist := history.NewClient(cfg.Server.BaseURL, parseDuration(cfg.Server.HTTPTimeout, 10*time.Second))

	var rec *reconcile.Reconciler
	conn := transport.New(transport.Options{
		SocketURL:      socketURL(cfg),
		Logger:         log,
		BackoffInitial: parseDuration(cfg.Stream.BackoffInitial, 800*time.Millisecond),
		BackoffMax:     parseDuration(cfg.Stream.BackoffMax, 8*time.Second),
		MaxAttempts:    cfg.Stream.MaxAttempts,
		OnEnvelope: func(env domain.Envelope) {
			rec.HandleEnvelope(env)
		},
		OnState: func(s domain.ConnState) {
			if hooks.onState != nil {
				hooks.onState(s)
			}
		},
		OnConnected: func(sid string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := rec.Sync(ctx); err != nil {
				log.Debugw("resync failed", "err", err)
			}
		},
	})

	rec = reconcile.New(reconcile.Options{
		SessionID:      sessionID,
		Store:          store,
		History:        hist,
		Sender:         conn,
		Logger:         log,
		FlushInterval:  parseDuration(cfg.Stream.FlushInterval, 50*time.Millisecond),
		SlowAfter:      parseDuration(cfg.Stream.SlowAfter, 4*time.Second),
		StuckAfter:     parseDuration(cfg.Stream.StuckAfter, 2*time.Minute),
		CommandTimeout: parseDuration(cfg.Stream.CommandTimeout, 15*time.Second),
		OnApply:        hooks.onApply,
		OnFlush:        hooks.onFlush,
		OnAdvisory:     hooks.onAdvisory,
	})

	return &stack{sessionID: sessionID, rec: rec, conn: conn, hist: hist, store: store}, nil
}

// socketURL derives the duplex endpoint from config, mapping the HTTP base
// to its ws scheme when no explicit socket URL is set.
func socketURL(cfg *config.Config) string {
	if cfg.Server.SocketURL != "" {
		return strings.TrimRight(cfg.Server.SocketURL, "/")
	}
	base := strings.TrimRight(cfg.Server.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/stream"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

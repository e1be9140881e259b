package peerapp

import (
	"context"
	"log"
	"sync"

	"dual-chat/internal/crypto"
	"dual-chat/internal/delivery"
	"dual-chat/internal/storage"
	"dual-chat/internal/transport"
	"dual-chat/internal/ui"
)

// App bundles the peer runtime: both transport channels, the delivery engine,
// local stores, and whichever UI surfaces the config enables.
type App struct {
	Cfg    *Config
	Engine *delivery.Engine

	ctx    context.Context
	cancel context.CancelFunc

	startOnce    sync.Once
	shutdownOnce sync.Once

	stableID string
	outbox   *storage.OutboxStore
	inbox    *storage.InboxStore
	tui      *ui.TUIDisplay
}

// NewApp wires all peer dependencies according to the provided config.
func NewApp(cfg *Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	stableID, err := delivery.LoadStableID(cfg.IdentityPath)
	if err != nil {
		cancel()
		return nil, err
	}

	box, err := crypto.NewBox(cfg.Secret)
	if err != nil {
		cancel()
		return nil, err
	}

	outbox, err := storage.OpenOutbox(cfg.OutboxPath)
	if err != nil {
		log.Printf("outbox unavailable (%v), unconfirmed messages will not survive restarts", err)
	}
	inbox, err := storage.OpenInbox(cfg.InboxPath)
	if err != nil {
		log.Printf("inbox unavailable (%v), running without history", err)
	}

	events := make(chan transport.Event, 64)
	peer := transport.NewPeerChannel(cfg.SessionName, cfg.ListenAddr, cfg.BeaconPort, box, events)
	relay := transport.NewRelayChannel(cfg.RelayURL, cfg.RelayToken, events)

	engine := delivery.NewEngine(delivery.Options{
		StableID:    stableID,
		SessionName: cfg.SessionName,
		Peer:        peer,
		Relay:       relay,
		Events:      events,
		Outbox:      outbox,
		Inbox:       inbox,
		Metrics:     &delivery.Metrics{},
	})

	log.Printf("peer %s listening on %s (session %q, encryption:%t)", stableID, cfg.ListenAddr, cfg.SessionName, box.Enabled())

	return &App{
		Cfg:      cfg,
		Engine:   engine,
		ctx:      ctx,
		cancel:   cancel,
		stableID: stableID,
		outbox:   outbox,
		inbox:    inbox,
	}, nil
}

// StableID returns the durable identity minted or loaded at startup.
func (a *App) StableID() string {
	return a.stableID
}

func (a *App) buildSinks() delivery.Sink {
	var sinks []delivery.Sink
	if a.Cfg.UseCLI {
		sinks = append(sinks, ui.NewCLIDisplay(ui.ShouldUseColor(a.Cfg.NoColor)))
	}
	if a.Cfg.UseTUI {
		a.tui = ui.NewTUIDisplay(func(text string) {
			a.submitLine(text)
		})
		sinks = append(sinks, a.tui)
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return ui.NewMultiSink(sinks...)
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatbridge/internal/domain"
	"chatbridge/internal/extract"
)

const defaultConcurrency = 5

// FallbackNotice is sent when a message yields an empty envelope; no backend
// call is made in that case.
const FallbackNotice = "could not establish response, please try again"

// Dispatcher owns the per-message pipeline: extract content parts, send the
// envelope to the backend, render the reply and hand it back to the
// originating channel. Each message is an independent run with no shared
// mutable state; failures are returned, never thrown past the bus loop.
type Dispatcher struct {
	extractor *extract.Extractor
	backend   domain.Backend
	bus       domain.MessageBus
	logger    *slog.Logger

	concurrency int

	resolversMu sync.RWMutex
	resolvers   map[string]domain.AttachmentResolver
}

type Config struct {
	Extractor   *extract.Extractor
	Backend     domain.Backend
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Concurrency int // max parallel messages (default 5)
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		extractor:   cfg.Extractor,
		backend:     cfg.Backend,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		resolvers:   make(map[string]domain.AttachmentResolver),
	}
}

// RegisterResolver wires a channel's attachment resolver. Channels without
// attachments simply never register one.
func (d *Dispatcher) RegisterResolver(channelName string, r domain.AttachmentResolver) {
	d.resolversMu.Lock()
	defer d.resolversMu.Unlock()
	d.resolvers[channelName] = r
}

func (d *Dispatcher) resolver(channelName string) domain.AttachmentResolver {
	d.resolversMu.RLock()
	defer d.resolversMu.RUnlock()
	return d.resolvers[channelName]
}

// Run consumes inbound messages with bounded concurrency. It is the
// transport-facing adapter: Handle's errors are logged here and go nowhere
// else.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				if err := d.Handle(ctx, m); err != nil {
					d.logger.Error("message handling failed",
						"channel", m.Channel,
						"chat_id", m.ChatID,
						"err", err,
					)
				}
			}(msg)
		}
	}
}

// Handle runs the pipeline for one inbound message. An empty envelope is not
// an error: the fixed fallback notice goes out and the backend is never
// called. Everything else that fails is returned to the caller.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) error {
	userKey := msg.UserKey()

	env, err := d.extractor.Extract(ctx, msg, d.resolver(msg.Channel))
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	if env.Empty() {
		d.bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Text:    FallbackNotice,
		})
		return nil
	}

	reply, err := d.backend.SendMessage(ctx, env, userKey)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	// Only text parts are surfaced; an all-image reply renders empty and is
	// sent as-is.
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Text:    reply.RenderText(),
	})

	d.logger.Info("message handled",
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"user", userKey,
		"parts", len(env.Parts),
	)
	return nil
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// InboundProcessor handles one inbound message. The replier is bound to the
// conversation the message came from.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, replier *Replier) error
}

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

// Manager owns adapter connections and dispatches inbound messages to the processor.
type Manager struct {
	registry    *Registry
	processor   InboundProcessor
	logger      *slog.Logger
	middlewares []Middleware

	mu          sync.Mutex
	connections map[string]*connectionEntry
}

// NewManager creates a Manager with the given logger, registry and inbound processor.
func NewManager(log *slog.Logger, registry *Registry, processor InboundProcessor) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry:    registry,
		processor:   processor,
		connections: map[string]*connectionEntry{},
		logger:      log.With(slog.String("component", "channel")),
	}
}

// Use appends middleware to the inbound processing chain.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// EnsureConnection starts the receiver for cfg unless it is already running.
func (m *Manager) EnsureConnection(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		return fmt.Errorf("channel %s has no receiver", cfg.ChannelType)
	}
	m.mu.Lock()
	if existing, ok := m.connections[cfg.ID]; ok && existing.connection.Running() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("adapter start", slog.String("channel", cfg.ChannelType.String()), slog.String("config_id", cfg.ID))
	handler := m.handleInbound
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	connectCtx := context.Background()
	if ctx != nil {
		// Decouple the long-lived connection from the caller's context.
		connectCtx = context.WithoutCancel(ctx)
	}
	conn, err := receiver.Connect(connectCtx, cfg, handler)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.connections[cfg.ID]; ok && existing.connection.Running() {
		m.mu.Unlock()
		_ = conn.Stop(context.Background())
		return nil
	}
	m.connections[cfg.ID] = &connectionEntry{config: cfg, connection: conn}
	m.mu.Unlock()
	return nil
}

// ConnectionStatus is a snapshot of one managed connection.
type ConnectionStatus struct {
	ConfigID    string
	ChannelType ChannelType
	Running     bool
}

// ConnectionStatuses returns the state of every managed connection.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]ConnectionStatus, 0, len(m.connections))
	for id, entry := range m.connections {
		statuses = append(statuses, ConnectionStatus{
			ConfigID:    id,
			ChannelType: entry.config.ChannelType,
			Running:     entry.connection.Running(),
		})
	}
	return statuses
}

// Shutdown stops all active connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, entry := range m.connections {
		m.logger.Info("adapter stop", slog.String("channel", entry.config.ChannelType.String()), slog.String("config_id", id))
		if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
			m.logger.Warn("adapter stop failed", slog.String("config_id", id), slog.Any("error", err))
			errs = append(errs, err)
		}
		delete(m.connections, id)
	}
	return errors.Join(errs...)
}

// NewReplier builds a replier for the conversation msg came from.
func (m *Manager) NewReplier(cfg ChannelConfig, msg InboundMessage) (*Replier, error) {
	sender, ok := m.registry.GetSender(cfg.ChannelType)
	if !ok {
		return nil, fmt.Errorf("channel %s cannot send messages", cfg.ChannelType)
	}
	editor, _ := m.registry.GetMessageEditor(cfg.ChannelType)
	target := strings.TrimSpace(msg.ReplyTarget)
	if target == "" {
		target = strings.TrimSpace(msg.Conversation.ID)
	}
	if target == "" {
		return nil, fmt.Errorf("inbound message has no reply target")
	}
	return NewReplier(cfg, target, msg.Message.ID, sender, editor), nil
}

func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	replier, err := m.NewReplier(cfg, msg)
	if err != nil {
		m.logger.Warn("drop inbound message", slog.String("channel", cfg.ChannelType.String()), slog.Any("error", err))
		return err
	}
	return m.processor.HandleInbound(ctx, cfg, msg, replier)
}

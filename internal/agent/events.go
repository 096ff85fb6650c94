package agent

import (
	"context"

	"go.uber.org/zap"
	"verichat/internal/gate"
	"verichat/internal/handler"
	"verichat/internal/hub"
	"verichat/internal/logger"
	"verichat/internal/session"
)

// ForwardState publishes every state snapshot of m on the events topic until
// ctx is done.
func ForwardState(ctx context.Context, m *session.Machine, h *hub.Hub, log *zap.Logger) {
	log = logger.OrNop(log)
	for s := range m.Watch(ctx) {
		if err := h.Publish(handler.EventsTopic, "state", s.View()); err != nil {
			log.Warn("publish state event", zap.Error(err))
		}
	}
}

// GateEvents returns a gate observer that publishes attempt transitions.
func GateEvents(h *hub.Hub, log *zap.Logger) gate.Observer {
	log = logger.OrNop(log)
	return func(a gate.Attempt) {
		if err := h.Publish(handler.EventsTopic, "gate", a); err != nil {
			log.Warn("publish gate event", zap.Error(err))
		}
	}
}

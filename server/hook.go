package server

import (
	"net"

	"github.com/zhimiaox/zmqx-retained/models"
)

type Hook func(impl *hooks)

type OnStop func()
type OnAccept func(conn net.Conn) error
type OnMsgArrived func(message *models.RetainedMessage) error
type OnRetained func(message *models.RetainedMessage)
type OnRetainedRemoved func(topic string)

// Hooks are the extension points of the ingest path.
type Hooks interface {
	OnStop()
	// OnAccept may refuse a connection before anything is read from it.
	OnAccept(conn net.Conn) error
	// OnMsgArrived sees every retained publish before it is applied, an error drops it.
	// A publish with an empty payload arrives with an empty Payload and removes the topic.
	OnMsgArrived(message *models.RetainedMessage) error
	OnRetained(message *models.RetainedMessage)
	OnRetainedRemoved(topic string)
}

type hooks struct {
	onStop            OnStop
	onAccept          OnAccept
	onMsgArrived      OnMsgArrived
	onRetained        OnRetained
	onRetainedRemoved OnRetainedRemoved
}

func NewHooks(hook ...Hook) Hooks {
	h := &hooks{}
	for _, fn := range hook {
		fn(h)
	}
	return h
}

func WithOnStop(onStop OnStop) Hook {
	return func(impl *hooks) {
		impl.onStop = onStop
	}
}

func (h *hooks) OnStop() {
	if h.onStop != nil {
		h.onStop()
	}
}

func WithOnAccept(onAccept OnAccept) Hook {
	return func(impl *hooks) {
		impl.onAccept = onAccept
	}
}

func (h *hooks) OnAccept(conn net.Conn) error {
	if h.onAccept != nil {
		return h.onAccept(conn)
	}
	return nil
}

func WithOnMsgArrived(onMsgArrived OnMsgArrived) Hook {
	return func(impl *hooks) {
		impl.onMsgArrived = onMsgArrived
	}
}

func (h *hooks) OnMsgArrived(message *models.RetainedMessage) error {
	if h.onMsgArrived != nil {
		return h.onMsgArrived(message)
	}
	return nil
}

func WithOnRetained(onRetained OnRetained) Hook {
	return func(impl *hooks) {
		impl.onRetained = onRetained
	}
}

func (h *hooks) OnRetained(message *models.RetainedMessage) {
	if h.onRetained != nil {
		h.onRetained(message)
	}
}

func WithOnRetainedRemoved(onRetainedRemoved OnRetainedRemoved) Hook {
	return func(impl *hooks) {
		impl.onRetainedRemoved = onRetainedRemoved
	}
}

func (h *hooks) OnRetainedRemoved(topic string) {
	if h.onRetainedRemoved != nil {
		h.onRetainedRemoved(topic)
	}
}

package server

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhimiaox/zmqx-retained/config"
)

type Options func(srv *server)

func WithHooks(hooks Hooks) Options {
	return func(srv *server) {
		srv.hooks = hooks
	}
}

func WithHook(hook ...Hook) Options {
	return func(srv *server) {
		srv.hooks = NewHooks(hook...)
	}
}

func WithConfig(cfg *config.Config) Options {
	return func(srv *server) {
		srv.cfg = cfg
	}
}

func WithLogger(l *slog.Logger) Options {
	return func(srv *server) {
		srv.logger = l
	}
}

func WithLoggerHandler(h slog.Handler) Options {
	return func(srv *server) {
		srv.logger = slog.New(h)
	}
}

// WithRegisterer exports the single writer metrics to reg, nothing is exported without it.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(srv *server) {
		srv.registerer = reg
	}
}

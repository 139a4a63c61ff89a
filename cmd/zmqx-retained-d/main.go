package main

import (
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhimiaox/zmqx-retained/config"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/server"
)

var configFile = flag.String("c", "config.toml", "config file path")

func main() {
	flag.Parse()
	cfg, err := config.ParseConfigFile(*configFile)
	if err != nil {
		panic(err)
	}
	if os.Getenv("ZMQX_DEBUG") == "true" {
		cfg.Server.Debug = true
	}
	logLevel := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	slog.Info("server starting", "node_id", cfg.Server.NodeID, "debug", cfg.Server.Debug)
	if cfg.Server.Debug {
		logLevel.Set(slog.LevelDebug)
		go func() {
			if err = http.ListenAndServe(":6060", nil); err != nil {
				slog.Error("debug listen", "err", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(slog.Default()),
		server.WithRegisterer(reg),
		server.WithHook(
			server.WithOnRetained(func(message *models.RetainedMessage) {
				slog.Debug("retained", "topic", message.Topic, "size", message.PayloadSize)
			}),
			server.WithOnRetainedRemoved(func(topic string) {
				slog.Debug("retained removed", "topic", topic)
			}),
		),
	)
	if err != nil {
		panic(err)
	}

	if cfg.Server.MetricsListen != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listen", "err", err)
			}
		}()
		defer metricsServer.Close()
	}

	if err = srv.Start(); err != nil {
		panic(err)
	}
	slog.Info("signal received, server closing", "signal", WaitForSignal())
	if err = srv.Stop(); err != nil {
		slog.Error("server stop", "err", err)
	}
}

func WaitForSignal() os.Signal {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	s := <-signalChan
	signal.Stop(signalChan)
	return s
}

package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/packets"
)

func (srv *server) Serve(conn net.Conn) {
	if !srv.track(conn) {
		_ = conn.Close()
		return
	}
	defer srv.untrack(conn)
	if err := srv.hooks.OnAccept(conn); err != nil {
		srv.logger.Debug("connection refused", "remote_addr", conn.RemoteAddr().String(), "err", err)
		_ = conn.Close()
		return
	}
	pool := common.GetIOPool()
	reader := pool.GetReader(conn, consts.ReadBufferSize)
	defer func() {
		_ = conn.Close()
		pool.PutReader(reader)
	}()
	logger := srv.logger.With("remote_addr", conn.RemoteAddr().String())
	decoder := &packets.Decoder{
		Version:         srv.cfg.MQTT.Version,
		RetainAvailable: srv.cfg.MQTT.RetainAvailable,
		MaxPacketSize:   srv.cfg.MQTT.MaxPacketSize,
	}
	for {
		pub, err := decoder.ReadPublish(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !srv.isStopping() {
				logger.Debug("publish decode, closing connection", "code", errors.Unwrap(err).Code, "err", err)
			}
			return
		}
		if pub.Qos > srv.cfg.MQTT.MaximumQoS {
			logger.Debug("publish qos not supported, closing connection", "qos", pub.Qos)
			return
		}
		if !pub.Retain {
			logger.Debug("non retained publish ignored", "topic", string(pub.TopicName))
			continue
		}
		if err = srv.applyRetained(pub, logger); errors.Is(err, errors.ErrClosed) {
			return
		}
	}
}

// applyRetained stores pub as the retained message of its topic, or removes
// the retained message when the payload is empty. It waits for the write so
// that one connection never has more than one write in flight.
func (srv *server) applyRetained(pub *packets.Publish, logger *slog.Logger) error {
	msg := models.RetainedFromPublish(pub, time.Now())
	if err := srv.hooks.OnMsgArrived(msg); err != nil {
		logger.Info("retained message dropped by hook", "topic", msg.Topic, "err", err)
		return nil
	}
	p := srv.store.retained
	if len(msg.Payload) == 0 {
		if _, err := p.Remove(msg.Topic).Get(context.Background()); err != nil {
			logger.Warn("remove retained message", "topic", msg.Topic, "err", err)
			return err
		}
		srv.hooks.OnRetainedRemoved(msg.Topic)
		logger.Debug("retained message removed", "topic", msg.Topic)
		return nil
	}
	if _, err := p.Persist(msg.Topic, msg).Get(context.Background()); err != nil {
		logger.Warn("persist retained message", "topic", msg.Topic, "err", err)
		return err
	}
	srv.hooks.OnRetained(msg)
	logger.Debug("retained message stored", "topic", msg.Topic, "qos", msg.QoS, "size", msg.PayloadSize)
	return nil
}

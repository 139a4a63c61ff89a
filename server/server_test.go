package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhimiaox/zmqx-retained/config"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/packets"
)

func newTestServer(t *testing.T, mutate func(cfg *config.Config), hook ...Hook) *server {
	t.Helper()
	cfg := config.New()
	cfg.Retained.Buckets = 4
	cfg.Retained.CleanupInterval = 0
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHook(hook...),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Stop()
	})
	return srv.(*server)
}

// serve runs srv.Serve on one end of a pipe and returns the other end.
func serve(t *testing.T, srv *server) (net.Conn, <-chan struct{}) {
	t.Helper()
	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(conn)
	}()
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, done
}

func pack(t *testing.T, p *packets.Publish) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, p.Pack(buf))
	return buf.Bytes()
}

func retainedPublish(topic, payload string) *packets.Publish {
	return &packets.Publish{
		Version:   packets.Version311,
		Qos:       packets.Qos1,
		Retain:    true,
		TopicName: []byte(topic),
		PacketID:  1,
		Payload:   []byte(payload),
	}
}

func get(t *testing.T, srv *server, topic string) *models.RetainedMessage {
	t.Helper()
	msg, err := srv.Retained().Get(topic).Get(context.Background())
	require.NoError(t, err)
	return msg
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func TestServe_StoresRetainedPublish(t *testing.T) {
	srv := newTestServer(t, nil)
	client, _ := serve(t, srv)

	_, err := client.Write(pack(t, retainedPublish("sensors/1", "21.5")))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return get(t, srv, "sensors/1") != nil
	}, 2*time.Second, 10*time.Millisecond)
	msg := get(t, srv, "sensors/1")
	assert.Equal(t, []byte("21.5"), msg.Payload)
	assert.Equal(t, packets.Qos1, msg.QoS)
	assert.True(t, msg.Retained)
}

func TestServe_Version5Expiry(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.MQTT.Version = packets.Version5
	})
	client, _ := serve(t, srv)

	expiry := uint32(3600)
	pub := retainedPublish("sensors/1", "21.5")
	pub.Version = packets.Version5
	pub.Properties = &packets.Properties{MessageExpiry: &expiry, ContentType: []byte("text/plain")}
	_, err := client.Write(pack(t, pub))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return get(t, srv, "sensors/1") != nil
	}, 2*time.Second, 10*time.Millisecond)
	msg := get(t, srv, "sensors/1")
	assert.Equal(t, expiry, msg.ExpiryInterval)
	assert.Equal(t, "text/plain", msg.ContentType)
}

func TestServe_EmptyPayloadRemoves(t *testing.T) {
	var removed []string
	srv := newTestServer(t, nil, WithOnRetainedRemoved(func(topic string) {
		removed = append(removed, topic)
	}))
	client, done := serve(t, srv)

	_, err := client.Write(pack(t, retainedPublish("sensors/1", "21.5")))
	require.NoError(t, err)
	_, err = client.Write(pack(t, retainedPublish("sensors/1", "")))
	require.NoError(t, err)
	require.NoError(t, client.Close())
	waitClosed(t, done)

	assert.Nil(t, get(t, srv, "sensors/1"))
	size, err := srv.Retained().Size()
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Equal(t, []string{"sensors/1"}, removed)
}

func TestServe_IgnoresNonRetained(t *testing.T) {
	srv := newTestServer(t, nil)
	client, done := serve(t, srv)

	plain := retainedPublish("sensors/plain", "x")
	plain.Retain = false
	_, err := client.Write(pack(t, plain))
	require.NoError(t, err)
	_, err = client.Write(pack(t, retainedPublish("sensors/1", "21.5")))
	require.NoError(t, err)
	require.NoError(t, client.Close())
	waitClosed(t, done)

	assert.Nil(t, get(t, srv, "sensors/plain"))
	assert.NotNil(t, get(t, srv, "sensors/1"))
}

func TestServe_ClosesOnInvalidPublish(t *testing.T) {
	dupQos0 := retainedPublish("sensors/1", "x")
	dupQos0.Qos = packets.Qos0
	dupQos0.Dup = true

	controlChar := retainedPublish("sensors/\u0013", "x")

	zeroPid := retainedPublish("sensors/1", "x")
	zeroPid.PacketID = 0

	wildcard := retainedPublish("sensors/#", "x")

	qos2 := retainedPublish("sensors/1", "x")
	qos2.Qos = packets.Qos2

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		pub    *packets.Publish
		raw    []byte
	}{
		{name: "dup_set_for_qos0", pub: dupQos0},
		{name: "control_character", pub: controlChar},
		{name: "packet_id_0", pub: zeroPid},
		{name: "wildcard_topic", pub: wildcard},
		{name: "not_a_publish", raw: []byte{0xC0, 0x00}},
		{
			name:   "retain_not_available",
			mutate: func(cfg *config.Config) { cfg.MQTT.RetainAvailable = false },
			pub:    retainedPublish("sensors/1", "x"),
		},
		{
			name:   "qos_above_maximum",
			mutate: func(cfg *config.Config) { cfg.MQTT.MaximumQoS = packets.Qos1 },
			pub:    qos2,
		},
		{
			name:   "packet_too_large",
			mutate: func(cfg *config.Config) { cfg.MQTT.MaxPacketSize = 8 },
			pub:    retainedPublish("sensors/1", "a payload past the limit"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.mutate)
			client, done := serve(t, srv)

			raw := tt.raw
			if raw == nil {
				raw = pack(t, tt.pub)
			}
			_, _ = client.Write(raw)
			waitClosed(t, done)

			size, err := srv.Retained().Size()
			require.NoError(t, err)
			assert.Zero(t, size)
		})
	}
}

func TestServe_Hooks(t *testing.T) {
	t.Run("accept_refused", func(t *testing.T) {
		srv := newTestServer(t, nil, WithOnAccept(func(conn net.Conn) error {
			return errors.New("refused")
		}))
		_, done := serve(t, srv)
		waitClosed(t, done)
	})

	t.Run("message_dropped", func(t *testing.T) {
		var stored []string
		srv := newTestServer(t, nil,
			WithOnMsgArrived(func(message *models.RetainedMessage) error {
				if message.Topic == "private/1" {
					return errors.New("not allowed")
				}
				return nil
			}),
			WithOnRetained(func(message *models.RetainedMessage) {
				stored = append(stored, message.Topic)
			}),
		)
		client, done := serve(t, srv)

		_, err := client.Write(pack(t, retainedPublish("private/1", "x")))
		require.NoError(t, err)
		_, err = client.Write(pack(t, retainedPublish("public/1", "y")))
		require.NoError(t, err)
		require.NoError(t, client.Close())
		waitClosed(t, done)

		assert.Nil(t, get(t, srv, "private/1"))
		assert.NotNil(t, get(t, srv, "public/1"))
		assert.Equal(t, []string{"public/1"}, stored)
	})
}

func TestServer_StopClosesConnections(t *testing.T) {
	stopped := false
	srv := newTestServer(t, nil, WithOnStop(func() {
		stopped = true
	}))
	require.NoError(t, srv.Start())
	_, done := serve(t, srv)

	require.NoError(t, srv.Stop())
	waitClosed(t, done)
	assert.True(t, stopped)

	_, err := srv.Retained().Get("sensors/1").Get(context.Background())
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.NoError(t, srv.Stop())

	// connections arriving after Stop are closed at once
	_, late := serve(t, srv)
	waitClosed(t, late)
}

func TestServer_TCPListen(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.TCP = &config.TCPListen{Listen: "127.0.0.1:0"}
	})
	require.NoError(t, srv.Start())

	conn, err := net.Dial("tcp", srv.tcpListener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(pack(t, retainedPublish("sensors/tcp", "1")))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return get(t, srv, "sensors/tcp") != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_PersistenceTypes(t *testing.T) {
	t.Run("bbolt", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.Server.Persistence.Type = consts.Bolt
			cfg.Server.Persistence.BBolt = &struct {
				Path   string `toml:"path"`
				NoSync bool   `toml:"no_sync"`
			}{Path: t.TempDir(), NoSync: true}
		})
		_, err := srv.Retained().Persist("a/b", models.NewRetainedMessage("a/b", 0, []byte("x"), time.Now())).Get(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, get(t, srv, "a/b"))
		require.NoError(t, srv.Stop())
	})

	t.Run("invalid", func(t *testing.T) {
		cfg := config.New()
		cfg.Server.Persistence.Type = "mysql"
		_, err := New(WithConfig(cfg), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		assert.Error(t, err)
	})

	t.Run("redis_client_is_lazy", func(t *testing.T) {
		cfg := config.New()
		cfg.Server.Persistence.Type = consts.Redis
		cfg.Server.Persistence.Redis = &struct {
			Addr     []string `toml:"addr"`
			Password string   `toml:"password"`
			Database int      `toml:"database"`
		}{Addr: []string{"127.0.0.1:0"}}
		backend, err := newBackend(cfg, slog.Default())
		require.NoError(t, err)
		assert.NotNil(t, backend.Local())
		assert.NoError(t, backend.Close())
	})
}

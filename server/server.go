package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhimiaox/zmqx-retained/config"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/persistence/retained"
)

// stopTimeout bounds the drain of the writer lanes on Stop.
const stopTimeout = 30 * time.Second

type Server interface {
	// Start opens the tcp listener, when configured, and the expiry sweeper.
	Start() error
	// Stop closes every connection, then the retained persistence. Later calls return the first result.
	Stop() error
	// Serve reads retained publishes from conn until it fails or the server stops.
	Serve(conn net.Conn)
	Retained() *retained.Persistence
}

type server struct {
	onceStop   sync.Once
	stopErr    error
	cfg        *config.Config
	logger     *slog.Logger
	hooks      Hooks
	registerer prometheus.Registerer

	tcpListener net.Listener

	connsMu  sync.Mutex
	stopping bool
	conns    map[net.Conn]struct{}
	connsWg  sync.WaitGroup

	sweeperCancel context.CancelFunc
	sweeperDone   chan struct{}

	store *retainedStore
}

func New(opts ...Options) (Server, error) {
	srv := &server{
		conns: make(map[net.Conn]struct{}),
	}
	for _, fn := range opts {
		fn(srv)
	}
	if srv.hooks == nil {
		srv.hooks = NewHooks()
	}
	if srv.cfg == nil {
		srv.cfg = config.New()
	}
	if srv.logger == nil {
		logLevel := new(slog.LevelVar)
		srv.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
		if srv.cfg.Server.Debug {
			logLevel.Set(slog.LevelDebug)
		}
	}
	if err := config.Validate(srv.cfg); err != nil {
		return nil, err
	}
	store, err := openRetainedStore(srv.cfg, srv.logger, srv.registerer)
	if err != nil {
		return nil, err
	}
	srv.store = store
	return srv, nil
}

func (srv *server) Retained() *retained.Persistence {
	return srv.store.retained
}

func (srv *server) Start() error {
	if conf := srv.cfg.Server.TCP; conf != nil {
		ln, err := net.Listen("tcp", conf.Listen)
		if err != nil {
			return err
		}
		srv.tcpListener = ln
		srv.logger.Info("tcp listen running", "listen", ln.Addr().String())
		go srv.tcpListen()
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv.sweeperCancel = cancel
	srv.sweeperDone = make(chan struct{})
	sweeper := retained.NewSweeper(srv.store.retained, time.Duration(srv.cfg.Retained.CleanupInterval), srv.logger)
	go func() {
		defer close(srv.sweeperDone)
		sweeper.Run(ctx)
	}()
	return nil
}

func (srv *server) Stop() error {
	srv.onceStop.Do(func() {
		var result *multierror.Error
		srv.connsMu.Lock()
		srv.stopping = true
		for conn := range srv.conns {
			_ = conn.Close()
		}
		srv.connsMu.Unlock()
		if srv.tcpListener != nil {
			if err := srv.tcpListener.Close(); err != nil {
				srv.logger.Error("tcp listener close", "err", err)
			} else {
				srv.logger.Info("tcp listener closed")
			}
		}
		srv.connsWg.Wait()
		if srv.sweeperCancel != nil {
			srv.sweeperCancel()
			<-srv.sweeperDone
		}
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := srv.store.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		srv.hooks.OnStop()
		srv.stopErr = result.ErrorOrNil()
		if srv.stopErr != nil {
			srv.logger.Error("server stopped", "err", srv.stopErr)
			return
		}
		srv.logger.Info("server stopped")
	})
	return srv.stopErr
}

func (srv *server) tcpListen() {
	for {
		conn, err := srv.tcpListener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !srv.isStopping() {
				srv.logger.Error("tcp accept", "err", err)
			}
			return
		}
		go srv.Serve(conn)
	}
}

func (srv *server) isStopping() bool {
	srv.connsMu.Lock()
	defer srv.connsMu.Unlock()
	return srv.stopping
}

// track registers conn so that Stop can close it. It refuses once Stop has begun.
func (srv *server) track(conn net.Conn) bool {
	srv.connsMu.Lock()
	defer srv.connsMu.Unlock()
	if srv.stopping {
		return false
	}
	srv.conns[conn] = struct{}{}
	srv.connsWg.Add(1)
	return true
}

func (srv *server) untrack(conn net.Conn) {
	srv.connsMu.Lock()
	delete(srv.conns, conn)
	srv.connsMu.Unlock()
	srv.connsWg.Done()
}

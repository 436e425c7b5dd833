// Package server wires config, store, state, and replication into a
// listening TCP service, following the teacher's Start/acceptConnections/
// Shutdown lifecycle (an atomic connection-ID counter, a WaitGroup drained
// with a timeout on shutdown).
package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faizanhussain2310/resp-kv/internal/config"
	"github.com/faizanhussain2310/resp-kv/internal/conn"
	"github.com/faizanhussain2310/resp-kv/internal/logging"
	"github.com/faizanhussain2310/resp-kv/internal/rdb"
	"github.com/faizanhussain2310/resp-kv/internal/replication"
	"github.com/faizanhussain2310/resp-kv/internal/state"
	"github.com/faizanhussain2310/resp-kv/internal/store"
)

// Server owns the listener and the shared State for one process.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	state    *state.State
	registry *replication.Registry

	listener net.Listener

	connIDCounter atomic.Int64
	wg            sync.WaitGroup

	mu         sync.Mutex
	isShutdown bool
	shutdownCh chan struct{}
}

// New builds a Server in master or replica role depending on cfg. The RDB
// snapshot named by cfg.Dir/cfg.DBFilename, if present, seeds the store
// before any connection is accepted.
func New(cfg *config.Config) (*Server, error) {
	st := store.New()

	role := state.RoleMaster
	if cfg.HasReplicaOf {
		role = state.RoleSlave
	}

	var registry *replication.Registry
	if role == state.RoleMaster {
		registry = replication.NewRegistry()
	}

	s := &Server{
		cfg:        cfg,
		store:      st,
		registry:   registry,
		shutdownCh: make(chan struct{}),
	}
	s.state = state.New(cfg, st, registry, role)

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("server: loading snapshot: %w", err)
	}

	return s, nil
}

func (s *Server) loadSnapshot() error {
	if s.cfg.Dir == "" || s.cfg.DBFilename == "" {
		return nil
	}
	path := filepath.Join(s.cfg.Dir, s.cfg.DBFilename)
	reader, ok, err := rdb.Open(path)
	if err != nil {
		return err
	}
	if !ok {
		logging.L().Warnf("no RDB file at %s, starting with empty database", path)
		return nil
	}
	entries, err := reader.Load()
	if err != nil {
		return err
	}
	s.state.LoadSnapshot(entries, time.Now())
	logging.L().Infof("loaded %d keys from %s", len(entries), path)
	return nil
}

// Start opens the listener, accepts connections until ctx is cancelled,
// and dials the configured master if running as a replica.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener
	logging.L().Infof("listening on %s", addr)

	if s.cfg.HasReplicaOf {
		s.wg.Add(1)
		go s.dialMaster(ctx)
	}

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		default:
		}

		c, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.isShutdown
			s.mu.Unlock()
			if down {
				return
			}
			logging.L().Warnf("accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

func (s *Server) handleConnection(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	connID := s.connIDCounter.Add(1)
	s.state.RegisterConn(connID, state.Client)
	logging.WithField("conn", connID).Debug("connection accepted")

	loop := conn.New(c, connID, s.state)
	if err := loop.Run(); err != nil {
		logging.WithField("conn", connID).Debugf("connection closed: %v", err)
	}
}

// dialMaster opens the outbound socket a replica keeps to its master and
// runs the same connection loop over it, so the handshake and subsequent
// command stream flow through the identical state machine used for
// inbound connections, just with State driving the outgoing side.
func (s *Server) dialMaster(ctx context.Context) {
	defer s.wg.Done()

	addr := fmt.Sprintf("%s:%s", s.cfg.ReplicaOf.Host, s.cfg.ReplicaOf.Port)
	c, err := net.Dial("tcp", addr)
	if err != nil {
		logging.L().Errorf("replica: failed to connect to master %s: %v", addr, err)
		return
	}
	defer c.Close()

	connID := s.connIDCounter.Add(1)
	s.state.RegisterConn(connID, state.Master)
	logging.L().Infof("replica: connected to master %s", addr)

	loop := conn.New(c, connID, s.state)
	if err := loop.Run(); err != nil {
		logging.L().Warnf("replica: connection to master ended: %v", err)
	}
}

// Shutdown stops accepting connections, closes the listener, and waits
// (bounded) for in-flight connection goroutines to exit.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	close(s.shutdownCh)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.L().Info("all connections closed")
	case <-time.After(5 * time.Second):
		logging.L().Warn("shutdown timeout reached, forcing exit")
	}
}

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/util"
)

// syncTimeout bounds how long a sync request waits for the engine worker.
const syncTimeout = 5 * time.Second

// Server hosts the geomsync control socket and serves requests.
type Server struct {
	engine     *engine.Engine
	metrics    *metrics.Collector
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server. An empty path selects
// DefaultSocketPath.
func NewServer(eng *engine.Engine, collector *metrics.Collector, logger *util.Logger, reload func(reason string) error, path string) (*Server, error) {
	if path == "" {
		var err error
		path, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	return &Server{
		engine:     eng,
		metrics:    collector,
		logger:     logger,
		reload:     reload,
		socketPath: path,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) String() string {
	return "control"
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	s.logger.Debugf("control request %s", req.Action)
	switch req.Action {
	case ActionStatus:
		s.writeOK(conn, s.engine.Status())
	case ActionSync:
		s.handleSync(ctx, conn, engine.CycleModeForced)
	case ActionSyncForce:
		s.handleSync(ctx, conn, engine.CycleModeAttach)
	case ActionFlushEmpty:
		s.handleSync(ctx, conn, engine.CycleModeFlushEmpty)
	case ActionInspect:
		s.handleInspect(conn)
	case ActionMetrics:
		s.handleMetrics(conn)
	case ActionReload:
		s.handleReload(conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleSync(ctx context.Context, conn net.Conn, mode engine.CycleMode) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	rec, err := s.engine.SyncNow(ctx, mode)
	if err != nil {
		s.writeError(conn, fmt.Errorf("%s cycle: %w", mode, err))
		return
	}
	s.writeOK(conn, rec)
}

func (s *Server) handleInspect(conn net.Conn) {
	records := s.engine.LastRecords()
	s.writeOK(conn, InspectSnapshot{
		World:    s.engine.LastWorld(),
		Displays: records.Displays,
		Windows:  records.Windows,
		History:  s.engine.CycleHistory(),
	})
}

func (s *Server) handleMetrics(conn net.Conn) {
	if s.metrics == nil {
		s.writeError(conn, errors.New("metrics collector not configured"))
		return
	}
	s.writeOK(conn, s.metrics.Snapshot())
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

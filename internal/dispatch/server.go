package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/visiontool/internal/hal"
)

// LineReader yields assembled request lines.
type LineReader interface {
	ReadLine(timeout time.Duration) ([]byte, bool)
}

// ChangeSource reports whether something the runtime depends on changed
// since the last call.
type ChangeSource interface {
	Changed() bool
}

// Server is the serving loop: one line read, handled and answered at a time.
type Server struct {
	in          LineReader
	dispatcher  *Dispatcher
	lineTimeout time.Duration
	logger      *slog.Logger
	status      hal.StatusSink

	models ChangeSource
	reload func()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the loop logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerStatus sets the indicator shown while idle.
func WithServerStatus(st hal.StatusSink) ServerOption {
	return func(s *Server) { s.status = st }
}

// WithModelReload calls reload before the next line whenever models
// reports a change.
func WithModelReload(models ChangeSource, reload func()) ServerOption {
	return func(s *Server) {
		s.models = models
		s.reload = reload
	}
}

// NewServer creates a serving loop reading from in.
func NewServer(in LineReader, d *Dispatcher, lineTimeout time.Duration, opts ...ServerOption) *Server {
	s := &Server{
		in:          in,
		dispatcher:  d,
		lineTimeout: lineTimeout,
		logger:      slog.Default(),
		status:      hal.NopStatus{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves until ctx is cancelled. It returns ctx.Err().
func (s *Server) Run(ctx context.Context) error {
	s.status.Set(hal.StateIdle)
	s.logger.Info("serving", "session_id", s.dispatcher.SessionID())
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("serving stopped")
			return err
		}
		s.step(ctx)
	}
}

// step runs one iteration. A panic here triggers recovery and emits nothing.
func (s *Server) step(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("serve loop panicked", "panic", p)
			s.dispatcher.Recover()
			s.status.Set(hal.StateError)
		}
	}()

	if s.models != nil && s.models.Changed() {
		s.logger.Info("models changed, reloading")
		s.reload()
	}

	line, ok := s.in.ReadLine(s.lineTimeout)
	if !ok {
		return
	}
	s.dispatcher.HandleLine(ctx, line)
}

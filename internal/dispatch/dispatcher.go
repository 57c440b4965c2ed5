// Package dispatch turns request lines into exactly one response each:
// validation, idempotent replay, the single in-flight guard, per-command
// deadlines and recovery after failures.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/deadline"
	"github.com/roach88/visiontool/internal/dedup"
	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/journal"
	"github.com/roach88/visiontool/internal/protocol"
	"github.com/roach88/visiontool/internal/vision"
)

// Commands.
const (
	CmdPing       = "PING"
	CmdInfo       = "INFO"
	CmdScan       = "SCAN"
	CmdWho        = "WHO"
	CmdObjects    = "OBJECTS"
	CmdLearn      = "LEARN"
	CmdResetFaces = "RESET_FACES"
	CmdDebug      = "DEBUG"
)

// Vision is the command surface the dispatcher routes to.
type Vision interface {
	Info() vision.InfoResult
	Scan(args map[string]any, dl deadline.Deadline) (vision.ScanResult, error)
	Who(args map[string]any, dl deadline.Deadline) (vision.WhoResult, error)
	Objects(args map[string]any, dl deadline.Deadline) (vision.ObjectsResult, error)
	Learn(args map[string]any, dl deadline.Deadline) (vision.StatusResult, error)
	ResetFaces() (vision.StatusResult, error)
	SetDebug(enabled bool) vision.DebugResult
	Recover()
}

// Writer sends one response frame.
type Writer interface {
	WriteLine(line []byte) error
}

// Recorder persists a journal entry.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// IDGenerator produces session identifiers.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Dispatcher owns the dedup cache and the in-flight flag. It is driven by
// one goroutine; a nested HandleLine during execution answers BUSY.
type Dispatcher struct {
	vision   Vision
	out      Writer
	status   hal.StatusSink
	recorder Recorder
	clk      clock.Clock
	logger   *slog.Logger
	ids      IDGenerator

	timeout  time.Duration
	ttl      time.Duration
	maxBytes int

	cache     *dedup.Cache
	sessionID string
	executing bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source for deadlines and dedup.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithStatus sets the status indicator.
func WithStatus(s hal.StatusSink) Option {
	return func(d *Dispatcher) { d.status = s }
}

// WithRecorder enables the request journal.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithIDGenerator sets the session id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithLimits sets the command timeout, dedup TTL and response size cap from
// the protocol config.
func WithLimits(p config.ProtocolConfig) Option {
	return func(d *Dispatcher) {
		d.timeout = time.Duration(p.CommandTimeoutMS) * time.Millisecond
		d.ttl = time.Duration(p.DedupTTLMS) * time.Millisecond
		d.maxBytes = p.MaxJSONBytes
	}
}

// New creates a dispatcher writing responses to out.
func New(v Vision, out Writer, opts ...Option) *Dispatcher {
	def := config.Default().Protocol
	d := &Dispatcher{
		vision:   v,
		out:      out,
		status:   hal.NopStatus{},
		clk:      clock.New(),
		logger:   slog.Default(),
		ids:      uuidGenerator{},
		timeout:  time.Duration(def.CommandTimeoutMS) * time.Millisecond,
		ttl:      time.Duration(def.DedupTTLMS) * time.Millisecond,
		maxBytes: def.MaxJSONBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cache = dedup.New(d.ttl)
	d.sessionID = d.ids.Generate()
	return d
}

// SessionID identifies this boot in INFO and the journal.
func (d *Dispatcher) SessionID() string { return d.sessionID }

// Executing reports whether a command is in flight.
func (d *Dispatcher) Executing() bool { return d.executing }

// HandleLine processes one request line and writes exactly one response.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) {
	start := d.clk.Now()
	d.status.Set(hal.StateBusy)

	req, bad := protocol.Decode(line)
	if bad != nil {
		d.logger.Debug("bad request", "message", bad.Error.Message, "len", len(line))
		d.send(*bad)
		d.status.Set(hal.StateError)
		d.record(ctx, journal.Entry{
			ReqID:   string(bad.ReqID),
			Outcome: string(bad.Error.Code),
			Message: bad.Error.Message,
		}, start)
		return
	}

	key := req.Key()
	logger := d.logger.With("req_id", key, "cmd", req.Command)

	if raw, ok := d.cache.Get(key, start); ok {
		logger.Debug("dedup hit")
		if err := d.out.WriteLine(raw); err != nil {
			logger.Warn("replay write failed", "error", err)
		}
		d.status.Set(hal.StateIdle)
		d.record(ctx, journal.Entry{ReqID: key, Command: req.Command, Outcome: "REPLAY", Replayed: true}, start)
		return
	}

	if d.executing {
		logger.Debug("busy")
		raw := d.send(protocol.ShortError(req.ReqID, fault.CodeBusy, "busy"))
		d.cache.Put(key, raw, start)
		d.status.Set(hal.StateIdle)
		d.record(ctx, journal.Entry{ReqID: key, Command: req.Command, Outcome: string(fault.CodeBusy)}, start)
		return
	}

	d.executing = true
	defer func() { d.executing = false }()

	dl := deadline.After(d.clk, d.timeout)
	result, err := d.execute(req, dl)
	if err == nil && dl.Expired() {
		err = fault.Timeout()
	}

	var resp protocol.Response
	if err != nil {
		fe := fault.Coerce(err)
		if fault.NeedsRecovery(err) {
			logger.Info("recovering vision", "code", string(fe.Code), "error", err)
			d.vision.Recover()
		}
		resp = protocol.FromFault(req.ReqID, fe)
	} else {
		resp = protocol.Success(req.ReqID, result)
	}

	raw := d.send(resp)
	d.cache.Put(key, raw, d.clk.Now())

	entry := journal.Entry{ReqID: key, Command: req.Command, Outcome: journal.OutcomeOK}
	if resp.Error != nil {
		d.status.Set(hal.StateError)
		entry.Outcome, entry.Message = string(resp.Error.Code), resp.Error.Message
		logger.Info("command failed", "code", entry.Outcome, "message", entry.Message,
			"elapsed_ms", d.clk.Since(start).Milliseconds())
	} else {
		d.status.Set(indicatorFor(result))
		logger.Info("command ok", "elapsed_ms", d.clk.Since(start).Milliseconds())
	}
	d.record(ctx, entry, start)
}

// execute routes the command. Panics are returned as untyped errors.
func (d *Dispatcher) execute(req protocol.Request, dl deadline.Deadline) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("command panicked", "cmd", req.Command, "panic", p)
			result, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()

	switch req.Command {
	case CmdPing:
		return vision.PingResult{Status: "ok", Tool: config.ToolName}, nil
	case CmdInfo:
		info := d.vision.Info()
		info.SessionID = d.sessionID
		return info, nil
	case CmdScan:
		return d.vision.Scan(req.Args, dl)
	case CmdWho:
		return d.vision.Who(req.Args, dl)
	case CmdObjects:
		return d.vision.Objects(req.Args, dl)
	case CmdLearn:
		d.status.Set(hal.StateLearning)
		return d.vision.Learn(req.Args, dl)
	case CmdResetFaces:
		return d.vision.ResetFaces()
	case CmdDebug:
		return d.vision.SetDebug(vision.BoolArg(req.Args["enabled"], false)), nil
	default:
		return nil, fault.New(fault.CodeBadRequest, "unknown_cmd")
	}
}

// send encodes within the size cap, leaving room for the terminator, and
// writes. It returns the bytes sent without the terminator.
func (d *Dispatcher) send(resp protocol.Response) []byte {
	raw := protocol.Encode(resp, d.maxBytes-1)
	if err := d.out.WriteLine(raw); err != nil {
		d.logger.Warn("response write failed", "error", err)
	}
	return raw
}

func (d *Dispatcher) record(ctx context.Context, e journal.Entry, start time.Time) {
	if d.recorder == nil {
		return
	}
	e.SessionID = d.sessionID
	e.ElapsedMS = d.clk.Since(start).Milliseconds()
	e.CreatedAt = start
	if err := d.recorder.Record(ctx, e); err != nil {
		d.logger.Warn("journal write failed", "error", err)
	}
}

// Recover resets the in-flight flag and asks vision to release hardware.
// The serving loop calls it after a panic escaped HandleLine.
func (d *Dispatcher) Recover() {
	d.executing = false
	d.vision.Recover()
}

func indicatorFor(result any) hal.State {
	if ind, ok := result.(vision.Indicator); ok {
		return ind.Indicator()
	}
	return hal.StateIdle
}

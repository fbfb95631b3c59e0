// Package mpv drives an mpv process over its JSON IPC socket and exposes it
// as a playback engine.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/playback"
)

const (
	defaultBinary       = "mpv"
	defaultStartTimeout = 5 * time.Second
	defaultTimeout      = 5 * time.Second
	dialInterval        = 50 * time.Millisecond
	eventBuffer         = 64
)

// observed property ids
const (
	propTimePos = iota + 1
	propDuration
	propPause
)

// ErrClosed is returned for commands sent after the connection is gone.
var ErrClosed = errors.New("mpv connection closed")

// Options configure Start.
type Options struct {
	// Binary is the mpv executable. Empty attaches to an already running
	// mpv listening on Socket.
	Binary string
	// Socket is the IPC socket path. Empty picks one in the temp dir.
	Socket string
	// StartTimeout bounds how long Start waits for the socket.
	StartTimeout time.Duration
	// Timeout bounds commands issued without a caller context.
	Timeout time.Duration
	Logger  lgr.L
}

// Engine is a playback.Engine backed by mpv. It is safe for concurrent use.
type Engine struct {
	conn    net.Conn
	cmd     *exec.Cmd
	socket  string
	timeout time.Duration
	logger  lgr.L

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu          sync.Mutex
	pending     map[int64]chan reply
	src         string
	gen         uint64
	loaded      bool
	ended       bool
	pendingSeek float64
	timePos     float64
	duration    float64
	paused      bool

	events    chan playback.Event
	done      chan struct{}
	closeOnce sync.Once
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is either a command reply or an event.
type message struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID *int64          `json:"request_id"`

	Event     string `json:"event"`
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
}

type reply struct {
	data json.RawMessage
	err  error
}

// Start launches mpv in idle mode, or attaches to an existing socket when
// opts.Binary is empty, and returns the connected Engine.
func Start(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}

	var cmd *exec.Cmd
	if opts.Binary != "" {
		if opts.Socket == "" {
			opts.Socket = filepath.Join(os.TempDir(), fmt.Sprintf("podcast-timeline-mpv-%d.sock", os.Getpid()))
		}
		_ = os.Remove(opts.Socket)

		cmd = exec.Command(opts.Binary,
			"--idle=yes", "--no-video", "--force-window=no", "--no-terminal",
			"--input-ipc-server="+opts.Socket)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
		}
		opts.Logger.Logf("[INFO] mpv started pid=%d socket=%s", cmd.Process.Pid, opts.Socket)
	}
	if opts.Socket == "" {
		return nil, errors.New("mpv socket is required when attaching")
	}

	conn, err := dial(ctx, opts.Socket, opts.StartTimeout)
	if err != nil {
		if cmd != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		return nil, err
	}

	e := newEngine(conn, opts)
	e.cmd = cmd
	e.socket = opts.Socket
	if err := e.observe(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func dial(ctx context.Context, socket string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "unix", socket)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect mpv socket %s: %w", socket, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialInterval):
		}
	}
}

func newEngine(conn net.Conn, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	e := &Engine{
		conn:     conn,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		pending:  make(map[int64]chan reply),
		duration: math.NaN(),
		paused:   true,
		events:   make(chan playback.Event, eventBuffer),
		done:     make(chan struct{}),
	}
	go e.readLoop()
	return e
}

func (e *Engine) observe(ctx context.Context) error {
	props := []struct {
		id   int
		name string
	}{
		{propTimePos, "time-pos"},
		{propDuration, "duration"},
		{propPause, "pause"},
	}
	for _, p := range props {
		if _, err := e.command(ctx, "observe_property", p.id, p.name); err != nil {
			return fmt.Errorf("observe %s: %w", p.name, err)
		}
	}
	return nil
}

// Events returns engine notifications. The channel is closed when the
// connection ends.
func (e *Engine) Events() <-chan playback.Event {
	return e.events
}

// Source returns the loaded media reference.
func (e *Engine) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// SetSource loads src paused, replacing the current file.
func (e *Engine) SetSource(src string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	return e.load(ctx, src, 0)
}

// load pauses mpv and replaces the current file with src, seeking to start
// once it is loaded. The state is reset before loadfile is sent because mpv
// may report file-loaded in the same write as the command reply.
func (e *Engine) load(ctx context.Context, src string, start float64) error {
	if _, err := e.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}

	e.mu.Lock()
	prevSrc, prevLoaded, prevEnded := e.src, e.loaded, e.ended
	e.gen++
	gen := e.gen
	e.src = src
	e.loaded = false
	e.ended = false
	e.pendingSeek = start
	e.timePos = start
	e.duration = math.NaN()
	e.paused = true
	e.mu.Unlock()

	if _, err := e.command(ctx, "loadfile", src, "replace"); err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.src, e.loaded, e.ended = prevSrc, prevLoaded, prevEnded
			e.pendingSeek = 0
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

// CurrentTime returns the last reported position in seconds.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timePos
}

// SetCurrentTime seeks to seconds. Before the file is loaded the position is
// remembered and applied once mpv reports file-loaded.
func (e *Engine) SetCurrentTime(seconds float64) error {
	e.mu.Lock()
	if !e.loaded {
		e.pendingSeek = seconds
		e.timePos = seconds
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.command(ctx, "seek", seconds, "absolute"); err != nil {
		return err
	}

	e.mu.Lock()
	e.timePos = seconds
	e.mu.Unlock()
	return nil
}

// Duration returns the media duration in seconds, or NaN while unknown.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// Paused reports whether playback is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Play unpauses mpv. A file that played to its end was unloaded by mpv and
// is loaded again first. It fails when nothing is loaded or mpv rejects it.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	src, ended, start := e.src, e.ended, e.pendingSeek
	e.mu.Unlock()
	if src == "" {
		return errors.New("no source loaded")
	}
	if ended {
		if err := e.load(ctx, src, start); err != nil {
			return err
		}
	}
	if _, err := e.command(ctx, "set_property", "pause", false); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	return nil
}

// Pause pauses mpv.
func (e *Engine) Pause() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	return nil
}

// Close stops an owned mpv process and closes the connection. It is safe to
// call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.cmd != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if _, qerr := e.command(ctx, "quit"); qerr != nil {
				e.logger.Logf("[DEBUG] mpv quit: %v", qerr)
			}
			cancel()
		}
		err = e.conn.Close()
		<-e.done

		if e.cmd != nil {
			waited := make(chan error, 1)
			go func() { waited <- e.cmd.Wait() }()
			select {
			case <-waited:
			case <-time.After(2 * time.Second):
				_ = e.cmd.Process.Kill()
				<-waited
			}
			_ = os.Remove(e.socket)
		}
	})
	return err
}

func (e *Engine) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	id := e.nextID.Add(1)
	ch := make(chan reply, 1)

	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	line, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	select {
	case <-e.done:
		return nil, ErrClosed
	default:
	}

	e.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = e.conn.SetWriteDeadline(deadline)
	}
	_, err = e.conn.Write(line)
	_ = e.conn.SetWriteDeadline(time.Time{})
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("mpv %v: %w", args[0], err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("mpv %v: %w", args[0], r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrClosed
	}
}

func (e *Engine) readLoop() {
	defer close(e.events)
	defer close(e.done)

	scanner := bufio.NewScanner(e.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			e.logger.Logf("[WARN] mpv: undecodable message: %v", err)
			continue
		}
		if msg.Event != "" {
			e.handleEvent(msg)
			continue
		}
		if msg.RequestID != nil {
			e.deliver(*msg.RequestID, msg)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		e.logger.Logf("[WARN] mpv connection: %v", err)
	}
}

func (e *Engine) deliver(id int64, msg message) {
	e.mu.Lock()
	ch, ok := e.pending[id]
	e.mu.Unlock()
	if !ok {
		return
	}

	r := reply{data: msg.Data}
	if msg.Error != "" && msg.Error != "success" {
		r.err = errors.New(msg.Error)
	}
	ch <- r
}

func (e *Engine) handleEvent(msg message) {
	switch msg.Event {
	case "property-change":
		e.handleProperty(msg)
	case "file-loaded":
		e.mu.Lock()
		e.loaded = true
		seek := e.pendingSeek
		e.pendingSeek = 0
		e.mu.Unlock()
		if seek > 0 {
			go func() {
				if err := e.SetCurrentTime(seek); err != nil {
					e.logger.Logf("[WARN] mpv: apply pending seek: %v", err)
				}
			}()
		}
		e.emit(playback.EventLoadedMetadata, nil)
	case "end-file":
		switch msg.Reason {
		case "eof":
			// mpv is idle now; the source stays selected for replay
			e.mu.Lock()
			e.paused = true
			e.loaded = false
			e.ended = true
			e.pendingSeek = 0
			e.timePos = 0
			e.mu.Unlock()
			e.emit(playback.EventEnded, nil)
		case "error":
			reason := msg.FileError
			if reason == "" {
				reason = "unknown error"
			}
			e.emit(playback.EventError, errors.New(reason))
		}
	}
}

func (e *Engine) handleProperty(msg message) {
	switch msg.ID {
	case propTimePos:
		e.mu.Lock()
		e.timePos = decodeNumber(msg.Data, 0)
		e.mu.Unlock()
		e.emit(playback.EventTimeUpdate, nil)
	case propDuration:
		e.mu.Lock()
		e.duration = decodeNumber(msg.Data, math.NaN())
		e.mu.Unlock()
		e.emit(playback.EventDurationChange, nil)
	case propPause:
		var paused bool
		if err := json.Unmarshal(msg.Data, &paused); err != nil {
			return
		}
		e.mu.Lock()
		e.paused = paused
		e.mu.Unlock()
		if paused {
			e.emit(playback.EventPause, nil)
		} else {
			e.emit(playback.EventPlay, nil)
		}
	}
}

func (e *Engine) emit(typ playback.EventType, err error) {
	ev := playback.Event{Type: typ, Source: e.Source(), Err: err}
	select {
	case e.events <- ev:
	default:
		e.logger.Logf("[DEBUG] mpv: event %s dropped, consumer is slow", typ)
	}
}

// decodeNumber returns the JSON number in data, or fallback for null or
// missing values.
func decodeNumber(data json.RawMessage, fallback float64) float64 {
	var v *float64
	if len(data) == 0 || json.Unmarshal(data, &v) != nil || v == nil {
		return fallback
	}
	return *v
}

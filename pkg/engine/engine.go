// Package engine implements the protocol engine: the single-threaded
// orchestrator that feeds serial lines to the telemetry checksum and
// parser, routes key-value pairs to the register cache, correlates
// command responses to the queue head, and manages send timeouts and
// retries.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bmvlink/pkg/checksum"
	"bmvlink/pkg/errors"
	"bmvlink/pkg/logger"
	"bmvlink/pkg/message"
	"bmvlink/pkg/queue"
	"bmvlink/pkg/registry"
	"bmvlink/pkg/transport"
)

// Config holds the engine's tunable behavior, sourced from app-config.json.
type Config struct {
	CmdResponseTimeout   time.Duration
	Compression          bool
	DefaultPriority      int
	DefaultMaxRetries    int
	RestartEveryNTimeout int // issue a restart every Nth timeout retry, iff relay is OFF
}

// DefaultConfig mirrors the values this protocol's source firmware was
// tuned against.
func DefaultConfig() Config {
	return Config{
		CmdResponseTimeout:   500 * time.Millisecond,
		Compression:          true,
		DefaultPriority:      0,
		DefaultMaxRetries:    2,
		RestartEveryNTimeout: 5,
	}
}

// pendingRequest is one inflight command awaiting a response.
type pendingRequest struct {
	command          *message.Command
	expectedPrefix   string
	remainingRetries int
	retryCount       int
	sentTime         time.Time
}

// Engine is the protocol orchestrator. All of its state is confined to the
// goroutine running Run; Enqueue and the other public methods hand work to
// that goroutine over a channel rather than taking a lock.
type Engine struct {
	port  transport.Port
	cache *registry.Cache
	q     *queue.Queue
	cfg   Config
	diag  *Diagnostics

	jobs chan func()

	errh *errors.ErrorHandler

	pending map[string]*pendingRequest

	acc                   *checksum.Telemetry
	operational           bool
	frameStarted          bool
	frameArrivalTimestamp time.Time

	responseTimer *time.Timer
	deferTimer    *time.Timer
}

// New creates an engine bound to port and cache. It does not start reading
// or writing until Run is called.
func New(port transport.Port, cache *registry.Cache, cfg Config) *Engine {
	return &Engine{
		port:    port,
		cache:   cache,
		q:       queue.New(),
		cfg:     cfg,
		diag:    newDiagnostics(),
		jobs:    make(chan func(), 64),
		errh:    errors.NewErrorHandler(nil),
		pending: make(map[string]*pendingRequest),
		acc:     &checksum.Telemetry{},
	}
}

// SetDiagnosticPublisher attaches a sink for the engine's typed errors
// (frame/command checksum failures, device refusals, timeouts, port
// errors), in addition to the logging every one of them already gets.
// Safe to call before Run; not safe to call concurrently with it.
func (e *Engine) SetDiagnosticPublisher(pub errors.DiagnosticPublisher) {
	e.errh = errors.NewErrorHandler(pub)
}

// Diagnostics returns the engine's counters (frame commit/reject counts,
// timeouts, retry exhaustion, max response time).
func (e *Engine) Diagnostics() Snapshot { return e.diag.Snapshot() }

// Enqueue submits cmd for transmission. Safe to call from any goroutine;
// the actual queue mutation happens on the engine's own goroutine.
func (e *Engine) Enqueue(cmd *message.Command) {
	e.jobs <- func() { e.enqueueAndDrive(cmd) }
}

// Cancel removes a not-yet-inflight command by identifier. Reports whether
// anything was removed.
func (e *Engine) Cancel(identifier string) <-chan bool {
	result := make(chan bool, 1)
	e.jobs <- func() { result <- e.q.Delete(identifier) }
	return result
}

// Restart writes the restart command directly to the transport, the same
// way the engine issues its own recovery restarts: bypassing the queue,
// since the device's restart acknowledgement never correlates to a
// PendingRequest (see issueRestart).
func (e *Engine) Restart() {
	e.jobs <- func() { e.issueRestart() }
}

// Run drives the engine's event loop until ctx is cancelled or the
// transport reports a fatal read error. It owns the line reader.
func (e *Engine) Run(ctx context.Context) error {
	reader := transport.NewLineReader(e.port)
	go reader.Run(ctx)

	lines := reader.Lines()
	errs := reader.Errs()

	for {
		var respC <-chan time.Time
		if e.responseTimer != nil {
			respC = e.responseTimer.C
		}
		var deferC <-chan time.Time
		if e.deferTimer != nil {
			deferC = e.deferTimer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("engine: line reader closed")
			}
			e.handleLine(line)
		case err := <-errs:
			return err
		case job := <-e.jobs:
			job()
		case <-respC:
			e.responseTimer = nil
			e.handleTimeout()
		case <-deferC:
			e.deferTimer = nil
			e.driveQueue()
		}
	}
}

func (e *Engine) enqueueAndDrive(cmd *message.Command) {
	wasEmpty := e.q.Len() == 0
	e.q.Enqueue(cmd, e.cfg.Compression)
	if wasEmpty {
		e.driveQueue()
	}
}

// driveQueue sends the current head if nothing is currently inflight for
// it. Called after enqueue, after advancement, and after the backpressure
// deferral timer fires.
func (e *Engine) driveQueue() {
	if !e.operational {
		e.scheduleDefer()
		return
	}
	head := e.q.Head()
	if head == nil {
		return
	}
	id := head.Identifier()
	_, alreadyInflight := e.pending[id]
	if alreadyInflight && e.responseTimer != nil {
		return // already sent and awaiting response
	}
	e.transmit(!alreadyInflight)
}

func (e *Engine) scheduleDefer() {
	if e.deferTimer != nil {
		return
	}
	e.deferTimer = time.NewTimer(1000 * time.Millisecond)
}

// transmit writes the queue head to the wire. fresh indicates the head has
// just become the head via enqueue or advancement, in which case a new
// PendingRequest is created and MaxRetries is read anew from the command;
// a retry of the same head reuses the existing PendingRequest, only ever
// decrementing remainingRetries.
func (e *Engine) transmit(fresh bool) {
	head := e.q.Head()
	if head == nil {
		return
	}
	id := head.Identifier()

	pr, exists := e.pending[id]
	if fresh || !exists {
		pr = &pendingRequest{
			command:          head,
			expectedPrefix:   expectedPrefix(head),
			remainingRetries: head.MaxRetries,
			sentTime:         time.Now(),
		}
		e.pending[id] = pr
	} else {
		pr.sentTime = time.Now()
	}

	if _, err := e.port.Write([]byte(head.Wire)); err != nil {
		logger.LogError("engine: write failed for %s: %v", id, err)
	}
	e.responseTimer = time.NewTimer(e.cfg.CmdResponseTimeout)
}

func expectedPrefix(cmd *message.Command) string {
	return cmd.Identifier() + "00"
}

func actualPrefix(resp *message.Response) string {
	if resp.State == nil {
		return resp.Identifier()
	}
	return fmt.Sprintf("%s%02X", resp.Identifier(), *resp.State)
}

// handleTimeout fires when the current head's response window elapses
// with no matching response.
func (e *Engine) handleTimeout() {
	head := e.q.Head()
	if head == nil {
		return
	}
	id := head.Identifier()
	pr, ok := e.pending[id]
	if !ok {
		return
	}

	e.diag.recordTimeout(time.Since(pr.sentTime))

	if pr.remainingRetries > 0 {
		pr.remainingRetries--
		pr.retryCount++
		if e.cfg.RestartEveryNTimeout > 0 && pr.retryCount%e.cfg.RestartEveryNTimeout == 0 && e.relayIsOff() {
			e.issueRestart()
		}
		e.transmit(false)
		return
	}

	e.diag.recordRetryExhausted()
	delete(e.pending, id)
	e.errh.Handle(context.Background(), errors.NewTimeoutError(id, pr.retryCount+1))
	_, newHead := e.q.Advance()
	if newHead != nil {
		e.transmit(true)
	}
}

// handleLine processes one CRLF-delimited line from the transport: either
// a telemetry key/value pair or the frame-terminating Checksum line, which
// may carry embedded command responses.
func (e *Engine) handleLine(line string) {
	if !e.operational {
		// The first line observed may be a partial frame joined mid-stream;
		// discard it and mark the engine operational from here on.
		e.operational = true
		if e.deferTimer != nil {
			e.deferTimer.Stop()
			e.deferTimer = nil
		}
		e.driveQueue()
		return
	}

	key, rest, found := strings.Cut(line, "\t")
	if !found {
		logger.LogWarn("engine: malformed telemetry line %q", line)
		return
	}

	if key == "Checksum" {
		e.handleChecksumLine(rest)
		return
	}

	e.acc.Add([]byte(line))
	e.acc.Add([]byte("\r\n"))

	if !e.frameStarted {
		e.frameArrivalTimestamp = time.Now()
		e.frameStarted = true
	}

	e.cache.StageTelemetryValue(key, rest)
}

func (e *Engine) handleChecksumLine(rest string) {
	if rest == "" {
		logger.LogWarn("engine: Checksum line with no value byte")
		return
	}
	checksumByte := rest[0]
	remainder := rest[1:]

	e.acc.Add([]byte("Checksum\t"))
	e.acc.AddByte(checksumByte)
	e.acc.Add([]byte("\r\n"))

	valid := e.acc.Valid()
	e.acc.Reset()

	ts := e.frameArrivalTimestamp
	if valid {
		e.cache.CommitAndDispatch(ts)
	} else {
		e.errh.Handle(context.Background(), errors.NewFrameChecksumError("Checksum\t"+rest))
		e.cache.DiscardStaged()
	}
	e.diag.recordFrame(ts, valid)
	e.frameStarted = false

	for _, fragment := range strings.Split(remainder, ":") {
		fragment = strings.TrimSuffix(fragment, "\n")
		if fragment == "" {
			continue
		}
		e.handleResponseFragment(fragment)
	}
}

// handleResponseFragment implements the routing table in section 4.6.
func (e *Engine) handleResponseFragment(fragment string) {
	resp, valid, err := message.ParseResponse(fragment)
	if err != nil {
		logger.LogWarn("engine: malformed response fragment %q: %v", fragment, err)
		return
	}
	if !valid {
		e.errh.Handle(context.Background(), errors.NewCommandChecksumError(fragment))
		return
	}

	id := resp.Identifier()

	// A pendingRequests hit takes priority over the special-case identifiers
	// below: the version command's own digit ('3') collides with the
	// unknown-response code, and only checking pendingRequests first lets a
	// genuine version response still resolve instead of being swallowed as
	// "unknown command".
	if pr, ok := e.pending[id]; ok {
		if actualPrefix(resp) == pr.expectedPrefix {
			if e.responseTimer != nil {
				e.responseTimer.Stop()
				e.responseTimer = nil
			}
			delete(e.pending, id)
			e.applyResponse(pr.command, resp)
			_, newHead := e.q.Advance()
			if newHead != nil {
				e.transmit(true)
			}
			return
		}

		e.errh.Handle(context.Background(), errors.NewDeviceStateError("device refused", id, valueOr(resp.State, 0xFF)))
		if e.relayIsOff() {
			e.issueRestart()
		}
		return
	}

	switch {
	case strings.HasPrefix(fragment, "40000"):
		logger.LogDebug("engine: restart acknowledged (%q)", fragment)
	case len(id) > 0 && id[0] == '3':
		logger.LogWarn("engine: device reported unknown command for %s", id)
	case strings.HasPrefix(id, "AAAA") || id == "2AAAA":
		logger.LogWarn("engine: framing error reported for %s", id)
	default:
		logger.LogWarn("engine: unwarranted response %s", id)
	}
}

func valueOr(p *byte, fallback byte) byte {
	if p == nil {
		return fallback
	}
	return *p
}

// applyResponse commits a successful command response into the register
// cache: version/productId land on their fixed descriptors by name, ping
// stages nothing, get/set/async-set land on the addressed descriptor.
func (e *Engine) applyResponse(cmd *message.Command, resp *message.Response) {
	switch cmd.Command {
	case message.CmdVersion:
		e.stageNamed("version", resp)
	case message.CmdProductID:
		e.stageNamed("productId", resp)
	case message.CmdPing:
		// no state to mirror; success alone is the useful signal
	case message.CmdGet, message.CmdSet, message.CmdAsyncSet:
		if !resp.HasAddress() {
			return
		}
		width := len(resp.ValueHex) / 2
		if width != 1 && width != 2 && width != 4 {
			logger.LogWarn("engine: response for 0x%04X has unsupported value width %d bytes", *resp.Address, width)
			return
		}
		val, err := resp.ValueAsUint(width)
		if err != nil {
			logger.LogWarn("engine: could not decode value for 0x%04X: %v", *resp.Address, err)
			return
		}
		if _, ok := e.cache.StageFromAddress(*resp.Address, int64(val)); !ok {
			logger.LogWarn("engine: no descriptor registered for address 0x%04X", *resp.Address)
			return
		}
		e.cache.CommitAndDispatch(time.Now())
	}
}

func (e *Engine) stageNamed(name string, resp *message.Response) {
	width := len(resp.ValueHex) / 2
	if width != 1 && width != 2 && width != 4 {
		width = 4
	}
	val, err := resp.ValueAsUint(width)
	if err != nil {
		logger.LogWarn("engine: could not decode %s response: %v", name, err)
		return
	}
	e.cache.StageTelemetryValue(name, fmt.Sprintf("%d", val))
	e.cache.CommitAndDispatch(time.Now())
}

func (e *Engine) relayIsOff() bool {
	d, ok := e.cache.LookupByKey("Relay")
	if !ok {
		return false
	}
	v, _ := d.Value.(string)
	return v == "OFF"
}

// issueRestart bypasses the queue entirely: the restart command is framed
// and written directly, and its acknowledgement (a fragment starting with
// "40000") is recognized on arrival when no productId query is pending for
// the same "4" identifier; it is never correlated to a restart request.
func (e *Engine) issueRestart() {
	cmd, err := message.NewRestart()
	if err != nil {
		logger.LogError("engine: could not build restart command: %v", err)
		return
	}
	if _, err := e.port.Write([]byte(cmd.Wire)); err != nil {
		logger.LogError("engine: restart write failed: %v", err)
	}
}

package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
)

// RewriteKind names a post-execution correction applied to one reply.
type RewriteKind int

const (
	// RewriteNone leaves the reply as received.
	RewriteNone RewriteKind = iota
	// RewriteSet normalizes the "not set" marker of SET NX/XX to a nil reply.
	RewriteSet
	// RewriteGeoRadiusStore turns the reply of GEORADIUS ... STORE into a count.
	RewriteGeoRadiusStore
)

// String returns the string representation of the rewrite kind.
func (k RewriteKind) String() string {
	switch k {
	case RewriteNone:
		return "none"
	case RewriteSet:
		return "set"
	case RewriteGeoRadiusStore:
		return "georadius_store"
	default:
		return "unknown"
	}
}

var rewriters = map[RewriteKind]func(*protocol.Reply){
	RewriteSet:            protocol.RewriteSetReply,
	RewriteGeoRadiusStore: protocol.RewriteGeoRadiusStoreReply,
}

// Command is one queued command.
type Command struct {
	Args    []string
	Rewrite RewriteKind
}

// QueuedBatch accumulates commands on a single transport and executes them as
// a pipeline or a MULTI/EXEC transaction.
//
// Every command is written to the transport when it is appended. Any failure
// invalidates the batch: from then on every operation returns an
// *InvalidBatchError without touching the transport. A QueuedBatch is not safe
// for concurrent use.
//
// Example usage:
//
//	tx := client.NewTransaction(conn)
//	tx.Command(ctx, "SET", "k", "v")
//	tx.Command(ctx, "INCR", "n")
//	replies, err := tx.Exec(ctx)
type QueuedBatch struct {
	id        string
	transport transport.Transport
	strategy  Strategy
	buf       *commandBuffer
	rewrites  map[RewriteKind][]int
	state     *StateManager
	cause     error
	watching  bool
	closed    bool
	logger    Logger
	hooks     *hookChain
	debugMode bool

	// release is set for batches created by a Client; it returns or poisons the transport.
	release func(t transport.Transport, reusable bool)
}

// NewPipeline creates a batch that sends commands back to back and reads
// their replies in order on Exec.
func NewPipeline(t transport.Transport, opts ...BatchOption) *QueuedBatch {
	return newBatch(t, pipelineStrategy{}, opts)
}

// NewTransaction creates a batch that wraps its commands in MULTI/EXEC.
// Pass WithPiped to defer reading the MULTI and QUEUED acknowledgements to Exec.
func NewTransaction(t transport.Transport, opts ...BatchOption) *QueuedBatch {
	cfg := resolveBatchConfig(opts)
	return newBatchWithConfig(t, transactionStrategy{piped: cfg.piped}, cfg)
}

func newBatch(t transport.Transport, strategy Strategy, opts []BatchOption) *QueuedBatch {
	return newBatchWithConfig(t, strategy, resolveBatchConfig(opts))
}

func resolveBatchConfig(opts []BatchOption) *batchConfig {
	cfg := &batchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = NewNoopLogger()
	}
	return cfg
}

func newBatchWithConfig(t transport.Transport, strategy Strategy, cfg *batchConfig) *QueuedBatch {
	id := uuid.NewString()

	b := &QueuedBatch{
		id:        id,
		transport: t,
		strategy:  strategy,
		buf:       newCommandBuffer(t, protocol.NewCodec()),
		rewrites:  make(map[RewriteKind][]int),
		state:     NewStateManager(),
		hooks:     cfg.hooks,
		debugMode: cfg.debugMode,
		logger: cfg.logger.WithFields(
			String("batch_id", id),
			String("strategy", strategyName(strategy)),
		),
	}

	for _, h := range cfg.onState {
		b.state.OnStateChange(h)
	}

	return b
}

func strategyName(s Strategy) string {
	switch {
	case !s.Transactional():
		return "pipeline"
	case s.Piped():
		return "transaction_piped"
	default:
		return "transaction"
	}
}

// ID returns the unique batch identifier used in logs, errors and hooks.
func (b *QueuedBatch) ID() string { return b.id }

// Count returns the number of commands queued since the last reset.
func (b *QueuedBatch) Count() int { return b.buf.count }

// State returns the current batch state.
func (b *QueuedBatch) State() BatchState { return b.state.GetState() }

// Strategy returns the strategy fixed at construction.
func (b *QueuedBatch) Strategy() Strategy { return b.strategy }

// Transport returns the transport the batch writes to.
func (b *QueuedBatch) Transport() transport.Transport { return b.transport }

// Fingerprint returns the xxhash of the frames written since the last reset.
func (b *QueuedBatch) Fingerprint() uint64 { return b.buf.Fingerprint() }

// Err returns the failure that invalidated the batch, or nil.
func (b *QueuedBatch) Err() error { return b.cause }

// OnStateChange registers a handler to be called on state transitions.
func (b *QueuedBatch) OnStateChange(handler StateChangeHandler) {
	b.state.OnStateChange(handler)
}

// Dirty reports whether the transport carries state left by this batch:
// queued commands, unread replies, watched keys, or an unknown stream position
// after a failure. A dirty transport must not be handed to another user.
func (b *QueuedBatch) Dirty() bool {
	return b.State() == StateInvalid || b.buf.count > 0 || b.buf.unread > 0 || b.watching
}

// Command queues a command built from args. Non-string arguments are
// formatted the way the server expects (integers in base 10, durations in seconds).
func (b *QueuedBatch) Command(ctx context.Context, args ...interface{}) error {
	return b.Append(ctx, Command{Args: formatArgs(args)})
}

// Append queues one command. On the first command of a transaction MULTI is
// sent first. If cmd.Rewrite is set, the reply at this position is corrected
// after Exec.
func (b *QueuedBatch) Append(ctx context.Context, cmd Command) error {
	// Argument validation comes first, so an empty command is a usage error even on an invalid batch.
	if len(cmd.Args) == 0 {
		return ErrEmptyCommand()
	}
	if err := b.sanityCheck("append"); err != nil {
		return err
	}

	first := b.buf.count == 0
	if first {
		if err := b.strategy.begin(ctx, b.buf); err != nil {
			return b.invalidate("append", err)
		}
	}

	if err := b.buf.append(ctx, cmd.Args); err != nil {
		return b.invalidate("append", err)
	}

	if err := b.strategy.queued(ctx, b.buf); err != nil {
		return b.invalidate("append", err)
	}

	if cmd.Rewrite != RewriteNone {
		b.rewrites[cmd.Rewrite] = append(b.rewrites[cmd.Rewrite], b.buf.count-1)
	}

	if first {
		b.transition(StateQueuing, "append", nil)
	}
	return nil
}

// Exec sends the queued commands for execution and returns one reply per
// command, in append order. Per-command server errors are returned as error
// replies, not as an error. A transaction refused by the server (watched key
// changed, or a command rejected while queuing) returns a
// *TransactionAbortedError.
func (b *QueuedBatch) Exec(ctx context.Context) (*Replies, error) {
	if err := b.sanityCheck("exec"); err != nil {
		return nil, err
	}

	hookCtx := b.newHookContext("exec")
	if err := b.hooks.before(ctx, hookCtx); err != nil {
		return nil, err
	}

	replies, err := b.exec(ctx)
	hookCtx.Replies = replies
	b.finishHook(ctx, hookCtx, err)
	if err != nil {
		return nil, err
	}
	return replies, nil
}

func (b *QueuedBatch) exec(ctx context.Context) (*Replies, error) {
	if b.buf.count == 0 {
		if err := b.unwatch(ctx, "exec"); err != nil {
			return nil, err
		}
		return newReplies(nil), nil
	}

	fingerprint := b.buf.Fingerprint()
	count := b.buf.count

	raw, err := b.strategy.exec(ctx, b.buf)
	if err != nil {
		return nil, b.invalidate("exec", err)
	}

	for kind, positions := range b.rewrites {
		rewrite := rewriters[kind]
		for _, pos := range positions {
			rewrite(raw[pos])
		}
	}

	b.watching = false
	b.reset("exec")

	b.logger.Debug("batch executed",
		Int("commands", count),
		Uint64("fingerprint", fingerprint))

	return newReplies(raw), nil
}

// Discard cancels the queued commands. A transaction sends DISCARD; a
// pipeline drops its local state and skips the owed replies on the next Exec.
func (b *QueuedBatch) Discard(ctx context.Context) error {
	if err := b.sanityCheck("discard"); err != nil {
		return err
	}

	hookCtx := b.newHookContext("discard")
	if err := b.hooks.before(ctx, hookCtx); err != nil {
		return err
	}

	err := b.discard(ctx)
	b.finishHook(ctx, hookCtx, err)
	return err
}

func (b *QueuedBatch) discard(ctx context.Context) error {
	if b.buf.count == 0 {
		return b.unwatch(ctx, "discard")
	}

	count := b.buf.count
	if err := b.strategy.discard(ctx, b.buf); err != nil {
		return b.invalidate("discard", err)
	}

	if b.strategy.Transactional() {
		b.watching = false
	}
	b.reset("discard")

	b.logger.Debug("batch discarded", Int("commands", count), Int("unread", b.buf.unread))
	return nil
}

// Watch marks keys for optimistic locking. It must be called on a transaction
// before its first command; Exec then fails with ErrTransactionAborted if any
// watched key changes in the meantime.
func (b *QueuedBatch) Watch(ctx context.Context, keys ...string) error {
	if !b.strategy.Transactional() {
		return ErrWatchNotAllowed("WATCH requires a transaction")
	}
	if len(keys) == 0 {
		return ErrEmptyCommand()
	}
	if err := b.sanityCheck("watch"); err != nil {
		return err
	}
	if b.State() != StateEmpty {
		return ErrWatchNotAllowed("WATCH must precede the first queued command")
	}

	hookCtx := b.newHookContext("watch")
	hookCtx.Keys = keys
	if err := b.hooks.before(ctx, hookCtx); err != nil {
		return err
	}

	err := b.watch(ctx, keys)
	b.finishHook(ctx, hookCtx, err)
	return err
}

func (b *QueuedBatch) watch(ctx context.Context, keys []string) error {
	args := append([]string{"WATCH"}, keys...)
	if err := b.buf.control(ctx, args...); err != nil {
		return b.invalidate("watch", err)
	}
	if err := b.buf.expectStatus(ctx, "OK", "WATCH"); err != nil {
		return b.invalidate("watch", err)
	}
	b.watching = true
	return nil
}

// unwatch releases watched keys when a transaction ends without commands.
func (b *QueuedBatch) unwatch(ctx context.Context, op string) error {
	if !b.watching {
		return nil
	}
	if err := b.buf.control(ctx, "UNWATCH"); err != nil {
		return b.invalidate(op, err)
	}
	if err := b.buf.expectStatus(ctx, "OK", "UNWATCH"); err != nil {
		return b.invalidate(op, err)
	}
	b.watching = false
	return nil
}

// Close releases the batch. It never performs I/O: commands that were queued
// but neither executed nor discarded are abandoned on the transport.
//
// For batches created by a Client, the transport goes back to the pool only if
// the batch is not Dirty; otherwise it is closed.
func (b *QueuedBatch) Close() error {
	if b.closed {
		return nil
	}

	dirty := b.Dirty()
	if dirty && b.State() != StateInvalid {
		b.logger.Warn("batch closed with outstanding state",
			Int("commands", b.buf.count),
			Int("unread", b.buf.unread),
			Bool("watching", b.watching))
	}

	b.closed = true
	b.rewrites = nil

	if b.release != nil {
		b.release(b.transport, !dirty)
	}
	return nil
}

// sanityCheck rejects operations on closed, invalid or broken batches.
func (b *QueuedBatch) sanityCheck(op string) error {
	if b.closed {
		return ErrBatchClosed(op)
	}
	if b.State() == StateInvalid {
		return newInvalidBatchError(b.id, op, b.cause)
	}
	if !b.transport.IsHealthy() {
		return b.invalidate(op, errConnectionBroken(op, b.id))
	}
	return nil
}

// invalidate marks the batch unusable, clears its bookkeeping and returns the
// classified error.
func (b *QueuedBatch) invalidate(op string, err error) error {
	err = b.classify(op, err)

	b.logger.Warn("batch invalidated",
		String("operation", op),
		Int("commands", b.buf.count),
		Uint64("fingerprint", b.buf.Fingerprint()),
		String("error", FormatError(err, b.debugMode)))

	b.cause = err
	b.buf.reset()
	b.rewrites = make(map[RewriteKind][]int)
	b.transition(StateInvalid, op, err)
	return err
}

func (b *QueuedBatch) classify(op string, err error) error {
	var (
		connErr  *ConnectionError
		protoErr *ProtocolError
		abortErr *TransactionAbortedError
		parseErr *protocol.ParseError
		transErr *protocol.TransportError
	)

	switch {
	case errors.As(err, &abortErr):
		if abortErr.BatchID == "" {
			abortErr.BatchID = b.id
		}
		return abortErr
	case errors.As(err, &protoErr), errors.As(err, &connErr):
		return err
	case errors.As(err, &parseErr),
		errors.As(err, &transErr) && transErr.Code == protocol.ErrorCodeProtocolError:
		perr := newProtocolError("malformed reply during "+op, nil, err)
		perr.Details["batch_id"] = b.id
		return perr
	default:
		return newConnectionError(op, b.id, err)
	}
}

// reset returns the batch to StateEmpty after a successful exec or discard.
func (b *QueuedBatch) reset(op string) {
	b.buf.reset()
	b.rewrites = make(map[RewriteKind][]int)
	b.transition(StateEmpty, op, nil)
}

func (b *QueuedBatch) transition(to BatchState, op string, err error) {
	if b.State() == to {
		return
	}
	metadata := map[string]interface{}{
		"batch_id":  b.id,
		"operation": op,
		"commands":  b.buf.count,
	}
	if terr := b.state.TransitionTo(to, err, metadata); terr != nil {
		b.logger.Error("unexpected batch state transition", Error("error", terr))
	}
}

func (b *QueuedBatch) newHookContext(op string) *HookContext {
	return &HookContext{
		Operation:   op,
		BatchID:     b.id,
		Transaction: b.strategy.Transactional(),
		Piped:       b.strategy.Piped(),
		Commands:    b.buf.count,
		Fingerprint: b.buf.Fingerprint(),
		StartTime:   time.Now(),
		Metadata:    make(map[string]interface{}),
		TraceID:     uuid.NewString(),
	}
}

func (b *QueuedBatch) finishHook(ctx context.Context, hookCtx *HookContext, err error) {
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)
	b.hooks.after(ctx, hookCtx)
}

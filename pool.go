package hive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Pool supervises a set of worker processes and routes every message
// flowing between them and the controller.
type Pool struct {
	config config
	logger *slog.Logger

	// peers maps registered peer ids to live handle ids; slots is the
	// arena those handle ids point into. A slot outlives its process:
	// relaunches swap the handle, the slot and its backoff state stay.
	peers  *biMap[string, uint64]
	slots  map[uint64]*workerSlot
	nextID uint64

	pending   *pendingTable
	listeners *listenerTable

	lk sync.Mutex

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type workerSlot struct {
	id      uint64
	command string

	proc    Process
	peerID  string
	stopped bool

	registered   chan struct{}
	registerOnce sync.Once

	restart *restartState
}

// Create builds a Pool from the given options. No process is launched
// until Spawn.
func Create(opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if len(cfg.workers) == 0 {
		return nil, fmt.Errorf("%w: no worker command", ErrInvalidCfg)
	}
	if len(cfg.workers) > 1 && cfg.size > 1 {
		return nil, fmt.Errorf("%w: size only applies to a single worker command", ErrInvalidCfg)
	}
	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}
	if cfg.spawner == nil {
		cfg.spawner = &ExecSpawner{}
	}

	p := &Pool{
		config:    cfg,
		peers:     newBiMap[string, uint64](),
		slots:     make(map[uint64]*workerSlot),
		listeners: newListenerTable(),
		closeCh:   make(chan struct{}),
	}

	if cfg.logHandler != nil {
		p.logger = slog.New(cfg.logHandler)
	} else {
		p.logger = slog.Default()
	}
	p.pending = newPendingTable(cfg.msink, cfg.metricLabels)

	commands := cfg.workers
	if len(commands) == 1 && cfg.size > 1 {
		commands = make([]string, cfg.size)
		for i := range commands {
			commands[i] = cfg.workers[0]
		}
	}
	for _, command := range commands {
		p.nextID++
		p.slots[p.nextID] = &workerSlot{
			id:         p.nextID,
			command:    command,
			registered: make(chan struct{}),
			restart:    newRestartState(cfg.restart),
		}
	}

	return p, nil
}

// ID is the controller's own peer id.
func (p *Pool) ID() string {
	return p.config.id
}

// Spawn launches every worker and waits until each one completed its
// registration handshake. A worker that never registers blocks forever
// unless the caller sets a deadline on ctx; the pool deliberately
// imposes no bootstrap timeout of its own.
func (p *Pool) Spawn(ctx context.Context) error {
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return ErrPoolClosed
	}
	slots := make([]*workerSlot, 0, len(p.slots))
	for _, slot := range p.slots {
		slots = append(slots, slot)
	}
	p.lk.Unlock()

	for _, slot := range slots {
		if err := p.launch(slot); err != nil {
			return err
		}
	}

	for _, slot := range slots {
		select {
		case <-slot.registered:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closeCh:
			return ErrPoolClosed
		}
	}
	return nil
}

func (p *Pool) launch(slot *workerSlot) error {
	proc, err := p.config.spawner.Spawn(slot.command)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	p.lk.Lock()
	slot.proc = proc
	p.lk.Unlock()

	p.wg.Add(1)
	go p.serve(slot, proc)
	return nil
}

// serve pumps one worker's inbound messages into the router until the
// conduit dies, then hands the exit to the restart supervisor.
func (p *Pool) serve(slot *workerSlot, proc Process) {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-proc.Messages():
			if !ok {
				select {
				case <-proc.Done():
					p.handleExit(slot, proc)
				case <-p.closeCh:
				}
				return
			}
			p.route(slot, msg)
		case <-p.closeCh:
			return
		}
	}
}

// route classifies one inbound message: registration, broadcast relay,
// response, directed to us, or forwarded to another peer.
func (p *Pool) route(slot *workerSlot, msg *Message) {
	p.config.msink.IncrCounterWithLabels(MetricMessageInCount, 1, p.config.metricLabels)

	if msg.Kind == KindRegister {
		p.register(slot, msg)
		return
	}

	p.lk.Lock()
	sender := slot.peerID
	p.lk.Unlock()
	if sender == "" {
		// Only the handshake is allowed before a peer id is assigned.
		p.drop(msg, "unregistered_sender")
		return
	}
	// Rewrite the sender with the authenticated peer id so a worker
	// cannot speak for another peer.
	msg.Sender = sender

	if msg.IsResponse() {
		if p.pending.resolve(msg) {
			return
		}
		if msg.Target != "" && msg.Target != p.config.id {
			// A reply to another peer's request, passing through.
			p.forward(msg)
			return
		}
		// Late response after timeout or cancellation.
		p.drop(msg, "stale_response")
		return
	}

	switch {
	case msg.Target == PeerBroadcast:
		p.relayBroadcast(slot, msg)
	case msg.Target == "" || msg.Target == p.config.id:
		p.dispatch(msg)
	default:
		p.forward(msg)
	}
}

func (p *Pool) register(slot *workerSlot, msg *Message) {
	peerID, _ := msg.Payload[registerPeerIDKey].(string)
	if !ValidatePeerID(peerID) || peerID == p.config.id {
		p.logger.Warn("ignored registration with invalid peer id", LabelPeerID.L(peerID))
		p.config.msink.IncrCounterWithLabels(MetricRegisterConflictCount, 1, p.config.metricLabels)
		return
	}

	p.lk.Lock()
	if p.peers.HasKey(peerID) {
		p.lk.Unlock()
		p.logger.Warn("ignored duplicate registration", LabelPeerID.L(peerID))
		p.config.msink.IncrCounterWithLabels(MetricRegisterConflictCount, 1, p.config.metricLabels)
		return
	}
	p.peers.Set(peerID, slot.id)
	slot.peerID = peerID
	p.lk.Unlock()

	slot.registerOnce.Do(func() { close(slot.registered) })
	p.logger.Debug("worker registered", LabelPeerID.L(peerID), LabelWorker.L(slot.command))

	if p.config.onWorkerStart != nil {
		p.config.onWorkerStart(p, peerID)
	}
}

// dispatch invokes the controller-local listeners for msg.Kind.
func (p *Pool) dispatch(msg *Message) {
	for _, fn := range p.listeners.take(msg.Kind) {
		fn(msg)
	}
}

// relayBroadcast fans a worker-originated broadcast out to every other
// worker plus the controller's own listeners, exactly once each and
// never back to the origin.
func (p *Pool) relayBroadcast(origin *workerSlot, msg *Message) {
	msg.Target = ""
	p.config.msink.IncrCounterWithLabels(MetricBroadcastRelayCount, 1, p.config.metricLabels)
	p.dispatch(msg)
	p.fanOut(msg, origin.id)
}

// fanOut posts msg to every registered worker except the slot id given
// (0 excludes nobody: slot ids start at 1).
func (p *Pool) fanOut(msg *Message, except uint64) {
	p.lk.Lock()
	procs := make([]Process, 0, p.peers.Len())
	p.peers.Range(func(_ string, id uint64) bool {
		if id == except {
			return true
		}
		if slot := p.slots[id]; slot != nil && slot.proc != nil {
			procs = append(procs, slot.proc)
		}
		return true
	})
	p.lk.Unlock()

	for _, proc := range procs {
		p.post(proc, msg)
	}
}

// forward delivers msg to the peer named by its target, silently
// dropping it when no such peer is registered.
func (p *Pool) forward(msg *Message) {
	p.lk.Lock()
	var proc Process
	if id, has := p.peers.GetByKey(msg.Target); has {
		if slot := p.slots[id]; slot != nil {
			proc = slot.proc
		}
	}
	p.lk.Unlock()

	if proc == nil {
		p.drop(msg, "unknown_peer")
		return
	}
	p.post(proc, msg)
}

func (p *Pool) post(proc Process, msg *Message) {
	if err := proc.Post(msg); err != nil {
		p.logger.Warn("failed to post message",
			LabelKind.L(msg.Kind), LabelError.L(err))
		p.dropCount("post_error")
		return
	}
	p.config.msink.IncrCounterWithLabels(MetricMessageOutCount, 1, p.config.metricLabels)
}

func (p *Pool) drop(msg *Message, reason string) {
	p.dropCount(reason)
	p.logger.Debug("dropped message",
		LabelKind.L(msg.Kind), LabelReason.L(reason), "uuid", msg.UUID)
}

func (p *Pool) dropCount(reason string) {
	labels := append([]metrics.Label{LabelReason.M(reason)}, p.config.metricLabels...)
	p.config.msink.IncrCounterWithLabels(MetricMessageDroppedCount, 1, labels)
}

// Send delivers a fire-and-forget message to peer. An unknown peer is
// not an error: the message is dropped and counted.
func (p *Pool) Send(peer, kind string, payload Payload) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	p.forward(newMessage(kind, p.config.id, peer, payload))
	return nil
}

// Call sends a request and returns the pending call tracking its
// response. The call rejects after the configured response timeout;
// Close it to cancel earlier.
func (p *Pool) Call(peer, kind string, payload Payload) (*PendingCall, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	msg := newMessage(kind, p.config.id, peer, payload)
	call := p.pending.track(msg.UUID, p.config.responseTimeout)
	p.forward(msg)
	return call, nil
}

// Request is the blocking convenience around Call.
func (p *Pool) Request(ctx context.Context, peer, kind string, payload Payload) (*Message, error) {
	call, err := p.Call(peer, kind, payload)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		call.Close()
		return nil, ctx.Err()
	case resp, ok := <-call.ResponseCh():
		if !ok {
			return nil, call.Err()
		}
		return resp, nil
	}
}

// Broadcast delivers to every registered worker and to the controller's
// own listeners, exactly once each.
func (p *Pool) Broadcast(kind string, payload Payload) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	msg := newMessage(kind, p.config.id, "", payload)
	p.dispatch(msg)
	p.fanOut(msg, 0)
	return nil
}

// Respond answers an earlier message: the reply's responseTo is the
// original uuid and it is routed back to the original sender.
func (p *Pool) Respond(orig *Message, payload Payload) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	msg := newMessage(orig.Kind, p.config.id, orig.Sender, payload)
	msg.ResponseTo = orig.UUID
	p.forward(msg)
	return nil
}

// On subscribes to direct (non-response) messages of the given kind
// addressed to the controller.
func (p *Pool) On(kind string, fn Handler) *Subscription {
	return p.listeners.add(kind, fn, false)
}

// Once is like On but the listener unregisters itself atomically on
// first invocation.
func (p *Pool) Once(kind string, fn Handler) *Subscription {
	return p.listeners.add(kind, fn, true)
}

// Off drops every listener for kind.
func (p *Pool) Off(kind string) {
	p.listeners.removeKind(kind)
}

// Peers lists the currently registered worker peer ids.
func (p *Pool) Peers() []string {
	p.lk.Lock()
	defer p.lk.Unlock()
	peers := make([]string, 0, p.peers.Len())
	p.peers.Range(func(peerID string, _ uint64) bool {
		peers = append(peers, peerID)
		return true
	})
	return peers
}

// handleExit deregisters the dead worker, runs the stop hook, then asks
// the restart supervisor what to do with the slot.
func (p *Pool) handleExit(slot *workerSlot, proc Process) {
	code := proc.ExitCode()

	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return
	}
	peerID := slot.peerID
	slot.peerID = ""
	slot.proc = nil
	p.peers.DeleteByValue(slot.id)
	rs := slot.restart
	if rs.graceTimer != nil {
		rs.graceTimer.Stop()
	}
	p.lk.Unlock()

	p.config.msink.IncrCounterWithLabels(MetricWorkerExitCount, 1, p.config.metricLabels)
	p.logger.Info("worker exited",
		LabelPeerID.L(peerID), LabelExitCode.L(code), LabelWorker.L(slot.command))

	if p.config.onWorkerStop != nil {
		p.config.onWorkerStop(p, peerID, code)
	}

	p.lk.Lock()
	switch {
	case !rs.policy.Enabled || code == ExitCodeNoRestart:
		slot.stopped = true
		p.lk.Unlock()
		p.logger.Info("worker will not be relaunched",
			LabelWorker.L(slot.command), LabelExitCode.L(code))
	case rs.exhausted():
		slot.stopped = true
		attempts := rs.attempts
		p.lk.Unlock()
		p.config.msink.IncrCounterWithLabels(MetricWorkerGiveUpCount, 1, p.config.metricLabels)
		p.logger.Warn("giving up on worker, too many failed relaunches",
			LabelWorker.L(slot.command), "attempts", attempts)
	default:
		delay := rs.next()
		attempt := rs.attempts
		rs.relaunchTimer = time.AfterFunc(delay, func() { p.relaunch(slot) })
		p.lk.Unlock()
		p.config.msink.IncrCounterWithLabels(MetricWorkerRestartCount, 1, p.config.metricLabels)
		p.logger.Info("relaunching worker",
			LabelWorker.L(slot.command), LabelDuration.L(delay), "attempt", attempt)
	}
}

// relaunch replaces the slot's process handle; the backoff state
// carries over until the grace timer rewards sustained uptime.
func (p *Pool) relaunch(slot *workerSlot) {
	if p.isClosed() {
		return
	}

	proc, err := p.config.spawner.Spawn(slot.command)
	if err != nil {
		p.logger.Error("failed to relaunch worker",
			LabelWorker.L(slot.command), LabelError.L(err))
		// A failed launch consumes an attempt like any other crash.
		p.lk.Lock()
		rs := slot.restart
		if p.closed {
			p.lk.Unlock()
			return
		}
		if rs.exhausted() {
			slot.stopped = true
			attempts := rs.attempts
			p.lk.Unlock()
			p.config.msink.IncrCounterWithLabels(MetricWorkerGiveUpCount, 1, p.config.metricLabels)
			p.logger.Warn("giving up on worker, too many failed relaunches",
				LabelWorker.L(slot.command), "attempts", attempts)
			return
		}
		delay := rs.next()
		rs.relaunchTimer = time.AfterFunc(delay, func() { p.relaunch(slot) })
		p.lk.Unlock()
		return
	}

	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		_ = proc.Close()
		return
	}
	slot.proc = proc
	rs := slot.restart
	rs.graceTimer = time.AfterFunc(rs.policy.BackoffGrace, func() {
		select {
		case <-proc.Done():
			// Crashed again before the grace period elapsed.
		default:
			p.lk.Lock()
			rs.rewardUptime()
			p.lk.Unlock()
			p.logger.Debug("worker stayed up past the grace period, backoff reset",
				LabelWorker.L(slot.command))
		}
	})
	p.lk.Unlock()

	p.wg.Add(1)
	go p.serve(slot, proc)
}

func (p *Pool) isClosed() bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.closed
}

// Close stops accepting new work: timers are cancelled, in-flight calls
// reject with ErrPoolClosed and worker conduits are released. Worker
// processes are not killed; their termination belongs to the spawn
// collaborator.
func (p *Pool) Close() error {
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)

	procs := make([]Process, 0, len(p.slots))
	for _, slot := range p.slots {
		slot.restart.stopTimers()
		if slot.proc != nil {
			procs = append(procs, slot.proc)
			slot.proc = nil
		}
		slot.peerID = ""
	}
	p.peers = newBiMap[string, uint64]()
	p.lk.Unlock()

	p.pending.closeAll(ErrPoolClosed)
	for _, proc := range procs {
		_ = proc.Close()
	}
	p.wg.Wait()

	p.logger.Info("pool closed")
	return nil
}

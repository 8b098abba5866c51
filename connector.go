package hive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"

	"github.com/raskyld/hive/pkg/wire"
)

// Connector is the worker side of the fabric: it claims a peer id with
// the controller on the other end of the conduit, then exchanges
// messages with any registered peer through it.
type Connector struct {
	cfg    connectConfig
	logger *slog.Logger

	sender *wire.Sender[*Message]
	recv   *wire.Receiver[*Message]

	pending   *pendingTable
	listeners *listenerTable

	lk     sync.Mutex
	closed bool
	doneCh chan struct{}
}

// Connect attaches to the controller over the configured conduit
// (stdin/stdout unless ConnectWithConduit says otherwise) and sends the
// registration handshake right away. Without an explicit id the peer id
// is a fresh uuid.
//
// The conduit reader is consumed from the moment Connect returns; the
// process must not read stdin itself afterwards.
func Connect(opts ...ConnectOption) (*Connector, error) {
	cfg := defaultConnectConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	if cfg.in == nil {
		cfg.in = wire.StreamReceiver{R: os.Stdin}
	}
	if cfg.out == nil {
		cfg.out = wire.StreamSender{W: os.Stdout}
	}
	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}

	c := &Connector{
		cfg:       cfg,
		listeners: newListenerTable(),
		doneCh:    make(chan struct{}),
	}

	if cfg.logHandler != nil {
		c.logger = slog.New(cfg.logHandler)
	} else {
		c.logger = slog.Default()
	}
	c.pending = newPendingTable(cfg.msink, cfg.metricLabels)

	c.sender = wire.NewSender[*Message](cfg.out, wire.NewJsonEncoder(false), 64)
	c.recv = wire.NewReceiver[*Message](cfg.in, wire.NewJsonDecoder[*Message](), 64)

	if err := c.post(newRegistration(cfg.id)); err != nil {
		_ = c.sender.Close()
		_ = c.recv.Close()
		return nil, err
	}

	go c.serve()

	c.logger.Debug("connector started", LabelPeerID.L(cfg.id))
	return c, nil
}

// ID is the peer id this connector registered under.
func (c *Connector) ID() string {
	return c.cfg.id
}

// serve consumes the conduit until it dies: responses resolve their
// pending call, everything else goes to the kind listeners.
func (c *Connector) serve() {
	defer close(c.doneCh)
	for {
		msg, err := c.recv.Recv(context.Background())
		if err != nil {
			c.lk.Lock()
			alreadyClosed := c.closed
			c.lk.Unlock()
			if !alreadyClosed {
				c.logger.Debug("conduit closed", LabelError.L(err))
				c.pending.closeAll(ErrConnectorClosed)
			}
			return
		}

		c.cfg.msink.IncrCounterWithLabels(MetricMessageInCount, 1, c.cfg.metricLabels)

		if msg.IsResponse() {
			if !c.pending.resolve(msg) {
				c.drop(msg, "stale_response")
			}
			continue
		}
		handlers := c.listeners.take(msg.Kind)
		if len(handlers) == 0 {
			c.drop(msg, "no_listener")
			continue
		}
		for _, fn := range handlers {
			fn(msg)
		}
	}
}

func (c *Connector) post(msg *Message) error {
	if err := c.sender.Send(context.Background(), msg); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectorClosed, err)
	}
	c.cfg.msink.IncrCounterWithLabels(MetricMessageOutCount, 1, c.cfg.metricLabels)
	return nil
}

func (c *Connector) drop(msg *Message, reason string) {
	labels := append([]metrics.Label{LabelReason.M(reason)}, c.cfg.metricLabels...)
	c.cfg.msink.IncrCounterWithLabels(MetricMessageDroppedCount, 1, labels)
	c.logger.Debug("dropped message",
		LabelKind.L(msg.Kind), LabelReason.L(reason), "uuid", msg.UUID)
}

// Send delivers a fire-and-forget message to peer, which may be the
// controller's id or another worker's. An unknown peer is dropped by
// the controller, not reported here.
func (c *Connector) Send(peer, kind string, payload Payload) error {
	if c.isClosed() {
		return ErrConnectorClosed
	}
	return c.post(newMessage(kind, c.cfg.id, peer, payload))
}

// Call sends a request and returns the pending call tracking its
// response.
func (c *Connector) Call(peer, kind string, payload Payload) (*PendingCall, error) {
	if c.isClosed() {
		return nil, ErrConnectorClosed
	}
	msg := newMessage(kind, c.cfg.id, peer, payload)
	call := c.pending.track(msg.UUID, c.cfg.responseTimeout)
	if err := c.post(msg); err != nil {
		call.Close()
		return nil, err
	}
	return call, nil
}

// Request is the blocking convenience around Call.
func (c *Connector) Request(ctx context.Context, peer, kind string, payload Payload) (*Message, error) {
	call, err := c.Call(peer, kind, payload)
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

// Broadcast asks the controller to relay to every other peer, the
// controller's own listeners included. The broadcast never echoes back
// to this worker.
func (c *Connector) Broadcast(kind string, payload Payload) error {
	if c.isClosed() {
		return ErrConnectorClosed
	}
	return c.post(newMessage(kind, c.cfg.id, PeerBroadcast, payload))
}

// Respond answers an earlier message: the reply's responseTo is the
// original uuid and it is routed back to the original sender.
func (c *Connector) Respond(orig *Message, payload Payload) error {
	if c.isClosed() {
		return ErrConnectorClosed
	}
	msg := newMessage(orig.Kind, c.cfg.id, orig.Sender, payload)
	msg.ResponseTo = orig.UUID
	return c.post(msg)
}

// On subscribes to direct (non-response) messages of the given kind.
func (c *Connector) On(kind string, fn Handler) *Subscription {
	return c.listeners.add(kind, fn, false)
}

// Once is like On but the listener unregisters itself atomically on
// first invocation.
func (c *Connector) Once(kind string, fn Handler) *Subscription {
	return c.listeners.add(kind, fn, true)
}

// Off drops every listener for kind.
func (c *Connector) Off(kind string) {
	c.listeners.removeKind(kind)
}

// Wait blocks until the conduit dies or Close is called, whichever
// comes first. A worker's main typically ends with it.
func (c *Connector) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return nil
	}
}

func (c *Connector) isClosed() bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.closed
}

// Close releases the conduit and rejects in-flight calls. Idempotent.
func (c *Connector) Close() error {
	c.lk.Lock()
	if c.closed {
		c.lk.Unlock()
		return nil
	}
	c.closed = true
	c.lk.Unlock()

	c.pending.closeAll(ErrConnectorClosed)
	err := c.sender.Close()
	_ = c.recv.Close()
	<-c.doneCh

	c.logger.Debug("connector closed", LabelPeerID.L(c.cfg.id))
	return err
}

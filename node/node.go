// Package node wires Funder, the payment Engine and the control Dispatcher
// into the single select-loop orchestrator spec.md §5 describes: "inputs
// arrive as a merged, bounded stream: inbound friend messages, control
// commands, timer ticks, and index-server events."
package node

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/freedomlayer/offset/control"
	"github.com/freedomlayer/offset/funder"
	"github.com/freedomlayer/offset/indexclient"
	"github.com/freedomlayer/offset/observability/logging"
	"github.com/freedomlayer/offset/pendingtx"
	"github.com/freedomlayer/offset/transport"
	"github.com/freedomlayer/offset/wire"
)

// ErrQueueFull is returned when a bounded input queue has no room left.
// The caller is expected to treat it the same way spec.md §5 treats
// inbound overflow: disconnect and recover through re-handshake.
var ErrQueueFull = errors.New("node: input queue full")

const defaultIndexPublishInterval = 30 * time.Second

// Config tunes Node's bounded queues and optional KDF worker pool. A zero
// Config is valid and picks conservative defaults.
type Config struct {
	InboundQueueSize     int
	CommandQueueSize     int
	IndexPublishInterval time.Duration
	// KDFWorkers bounds how many inbound messages that may invoke the slow
	// KDF (crypto.DeriveLock, via the seller path) run concurrently off the
	// select loop. Zero means every inbound message is handled inline.
	KDFWorkers int
}

func (c Config) withDefaults() Config {
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = 256
	}
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = 64
	}
	if c.IndexPublishInterval <= 0 {
		c.IndexPublishInterval = defaultIndexPublishInterval
	}
	return c
}

type inboundMessage struct {
	peer []byte
	msg  wire.FriendMessage
}

// Registry tracks each friend's live transport.Channel and implements
// funder.Sender by routing through it. It is constructed independently of
// Node so it can be handed to funder.New before the Node that owns the
// rest of the wiring exists.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]transport.Channel
}

// NewRegistry constructs an empty connection Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]transport.Channel)}
}

// Set registers ch as the transport for peer, replacing any prior one.
func (r *Registry) Set(peer []byte, ch transport.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[hex.EncodeToString(peer)] = ch
}

// Remove drops peer's registered transport, if any.
func (r *Registry) Remove(peer []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, hex.EncodeToString(peer))
}

// Send implements funder.Sender.
func (r *Registry) Send(ctx context.Context, peer []byte, msg wire.FriendMessage) error {
	r.mu.RLock()
	ch, ok := r.channels[hex.EncodeToString(peer)]
	r.mu.RUnlock()
	if !ok {
		return funder.ErrUnknownFriend
	}
	return ch.Send(ctx, msg)
}

// Node is the top-level orchestrator: one goroutine (Run) drains inbound
// friend messages and control commands, ticks the index-server publish
// timer, and (optionally) offloads KDF-bound inbound handling to a bounded
// worker pool.
type Node struct {
	fd         *funder.Funder
	router     *pendingtx.Router
	dispatcher *control.Dispatcher
	index      indexclient.Client
	log        *slog.Logger
	conns      *Registry

	cfg Config

	inbound  chan inboundMessage
	commands chan control.Command
	workers  chan struct{}

	metrics *nodeMetrics
}

// New constructs a Node. fd, router and dispatcher must already be wired
// to each other (router implements fd's OperationHandler and dispatcher's
// funder/engine targets, and fd's Sender must be conns); index may be nil
// to skip summary publication.
func New(fd *funder.Funder, router *pendingtx.Router, dispatcher *control.Dispatcher, conns *Registry, index indexclient.Client, log *slog.Logger, cfg Config) *Node {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.SetupNode(os.Getenv("OFFSET_ENV"))
	}
	n := &Node{
		fd:         fd,
		router:     router,
		dispatcher: dispatcher,
		index:      index,
		log:        log,
		conns:      conns,
		cfg:        cfg,
		inbound:    make(chan inboundMessage, cfg.InboundQueueSize),
		commands:   make(chan control.Command, cfg.CommandQueueSize),
		metrics:    defaultNodeMetrics(),
	}
	if cfg.KDFWorkers > 0 {
		n.workers = make(chan struct{}, cfg.KDFWorkers)
	}
	return n
}

// AddConnection registers ch as the transport for peer and starts a reader
// goroutine that feeds Receive()d messages into the bounded inbound queue.
// A full queue disconnects the friend, matching spec.md §5's recovery path.
func (n *Node) AddConnection(ctx context.Context, peer []byte, ch transport.Channel) {
	n.conns.Set(peer, ch)
	go n.readLoop(ctx, peer, ch)
}

func (n *Node) readLoop(ctx context.Context, peer []byte, ch transport.Channel) {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			n.disconnect(peer)
			return
		}
		select {
		case n.inbound <- inboundMessage{peer: peer, msg: msg}:
		default:
			n.metrics.inboundOverflows.Inc()
			n.log.Warn("node: inbound queue full, disconnecting friend", logging.MaskField("peer", hex.EncodeToString(peer)))
			n.disconnect(peer)
			_ = ch.Close()
			return
		}
	}
}

func (n *Node) disconnect(peer []byte) {
	n.conns.Remove(peer)
}

// SubmitCommand enqueues an application command for the select loop to
// dispatch. It never blocks: ErrQueueFull signals back-pressure.
func (n *Node) SubmitCommand(cmd control.Command) error {
	select {
	case n.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run is the merged, bounded input stream's single consumer (spec.md §5).
// It returns when ctx is cancelled. Funder's own periodic flush ticking
// runs alongside it in a dedicated goroutine since Funder already
// synchronizes itself internally.
func (n *Node) Run(ctx context.Context) error {
	go func() {
		if err := n.fd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.log.Warn("node: funder flush loop exited", logging.MaskField("error", err.Error()))
		}
	}()

	ticker := time.NewTicker(n.cfg.IndexPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case im := <-n.inbound:
			n.handleInbound(ctx, im)
		case cmd := <-n.commands:
			n.handleCommand(ctx, cmd)
		case <-ticker.C:
			n.publishSummaries(ctx)
		}
	}
}

func (n *Node) handleInbound(ctx context.Context, im inboundMessage) {
	if n.workers == nil {
		n.processInbound(ctx, im)
		return
	}
	select {
	case n.workers <- struct{}{}:
		go func() {
			defer func() { <-n.workers }()
			n.processInbound(ctx, im)
		}()
	case <-ctx.Done():
	}
}

func (n *Node) processInbound(ctx context.Context, im inboundMessage) {
	if err := n.fd.HandleInbound(ctx, im.peer, im.msg, n.router); err != nil {
		n.metrics.inboundErrors.Inc()
		n.log.Warn("node: inbound message rejected", logging.MaskField("peer", hex.EncodeToString(im.peer)), logging.MaskField("error", err.Error()))
	}
}

func (n *Node) handleCommand(ctx context.Context, cmd control.Command) {
	if err := n.dispatcher.Dispatch(ctx, cmd); err != nil {
		n.log.Warn("node: command dispatch failed", logging.MaskField("error", err.Error()))
	}
}

func (n *Node) publishSummaries(ctx context.Context) {
	if n.index == nil {
		return
	}
	fdSummaries := n.fd.Summaries()
	if len(fdSummaries) == 0 {
		return
	}
	summaries := make([]indexclient.CapacitySummary, len(fdSummaries))
	for i, s := range fdSummaries {
		summaries[i] = indexclient.CapacitySummary{
			Friend:       s.Peer,
			Currency:     s.Currency,
			SendCapacity: s.SendCapacity,
			RecvCapacity: s.RecvCapacity,
			Rate:         s.Rate,
		}
	}
	if err := n.index.PublishSummaries(ctx, summaries); err != nil {
		n.log.Warn("node: publish summaries failed", logging.MaskField("error", err.Error()))
	}
}

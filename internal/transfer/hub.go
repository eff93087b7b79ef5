package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/frame"
	"github.com/danmuck/isogather/internal/protocol/schema"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrHubClosed      = fmt.Errorf("%w: hub closed", failure.ErrChannel)
	ErrReceiveTimeout = fmt.Errorf("%w: receive timed out", failure.ErrChannel)
)

// HubConfig describes the ranks a Hub expects. Ranks counts the collector,
// so workers are 1..Ranks-1.
type HubConfig struct {
	Scheme  partition.Scheme
	Ranks   int
	RunID   string
	Session session.Config
}

type inbound struct {
	msg session.Message
	err error
}

type mailbox struct {
	ch      chan inbound
	claimed bool
}

// Hub is the collector end of the network message channel. Each worker
// rank gets a FIFO mailbox fed by its own connection.
type Hub struct {
	cfg      HubConfig
	perRank  int
	mailbox  []*mailbox
	limits   frame.Limits
	closedCh chan struct{}

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	closed    bool
	readers   sync.WaitGroup
	closeOnce sync.Once
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if err := cfg.Scheme.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scheme.Strategy == partition.ThreadOnly {
		return nil, fmt.Errorf("%w: thread strategy has no worker ranks", failure.ErrConfiguration)
	}
	if cfg.Ranks < 2 {
		return nil, fmt.Errorf("%w: need at least 2 ranks, got %d", failure.ErrConfiguration, cfg.Ranks)
	}
	cfg.Session = cfg.Session.WithDefaults()
	perRank := partition.MessagesPerRank(cfg.Scheme.Strategy, cfg.Scheme.ThreadsPerRank)
	h := &Hub{
		cfg:      cfg,
		perRank:  perRank,
		mailbox:  make([]*mailbox, cfg.Ranks),
		limits:   cfg.Session.Limits(),
		closedCh: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	for rank := 1; rank < cfg.Ranks; rank++ {
		h.mailbox[rank] = &mailbox{ch: make(chan inbound, perRank)}
	}
	return h, nil
}

// Serve accepts worker connections until ctx is cancelled or the hub is
// closed.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { h.Close() })
	defer stop()
	go func() {
		<-h.closedCh
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || h.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !h.track(conn) {
			_ = conn.Close()
			return nil
		}
		go h.handleConn(conn)
	}
}

func (h *Hub) handleConn(conn net.Conn) {
	defer h.readers.Done()
	defer conn.Close()
	defer h.untrack(conn)

	reader := bufio.NewReader(conn)
	_ = conn.SetDeadline(time.Now().Add(h.cfg.Session.HandshakeTimeout))
	hello, err := session.ReadHello(reader)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("transfer.Hub.handleConn bad hello")
		return
	}
	box, reason := h.claim(hello)
	ack := session.HelloAck{
		Status:      session.AckStatusAccepted,
		Rank:        hello.Rank,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if box == nil {
		ack.Status = session.AckStatusRejected
		ack.Message = reason
		log.Warn().Int("rank", hello.Rank).Str("reason", reason).Msg("transfer.Hub.handleConn rejected")
		_ = session.WriteHelloAck(conn, ack)
		return
	}
	if err := session.WriteHelloAck(conn, ack); err != nil {
		h.finish(box, fmt.Errorf("%w: rank %d ack: %v", failure.ErrChannel, hello.Rank, err))
		return
	}
	_ = conn.SetDeadline(time.Time{})
	log.Debug().Int("rank", hello.Rank).Int("messages", h.perRank).Msg("transfer.Hub.handleConn registered")

	for n := range h.perRank {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.Session.ReceiveTimeout))
		f, err := frame.ReadFrame(reader, h.limits)
		if err != nil {
			h.finish(box, fmt.Errorf("%w: rank %d stream ended after %d of %d messages: %v",
				failure.ErrChannel, hello.Rank, n, h.perRank, err))
			return
		}
		msg, err := session.Decode(f)
		if err != nil {
			h.finish(box, fmt.Errorf("%w: rank %d: %v", failure.ErrChannel, hello.Rank, err))
			return
		}
		if msg.Source != hello.Rank {
			h.finish(box, fmt.Errorf("%w: rank %d sent a frame from rank %d", failure.ErrChannel, hello.Rank, msg.Source))
			return
		}
		box.ch <- inbound{msg: msg}
	}
	close(box.ch)
}

// claim binds a hello to its rank mailbox, or explains the rejection.
func (h *Hub) claim(hello session.Hello) (*mailbox, string) {
	switch {
	case hello.RunID != h.cfg.RunID:
		return nil, fmt.Sprintf("unknown run id %q", hello.RunID)
	case hello.Rank < 1 || hello.Rank >= h.cfg.Ranks:
		return nil, fmt.Sprintf("rank %d outside [1,%d)", hello.Rank, h.cfg.Ranks)
	case hello.Strategy != h.cfg.Scheme.Strategy.String():
		return nil, fmt.Sprintf("strategy %q, collector runs %q", hello.Strategy, h.cfg.Scheme.Strategy)
	case hello.Threads != h.perRank:
		return nil, fmt.Sprintf("threads %d, collector expects %d", hello.Threads, h.perRank)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	box := h.mailbox[hello.Rank]
	if box.claimed {
		return nil, fmt.Sprintf("rank %d already registered", hello.Rank)
	}
	box.claimed = true
	return box, ""
}

// Abandon ends the mailbox of a rank that will never connect, such as a
// worker process that exited before its hello.
func (h *Hub) Abandon(rank int, cause error) {
	if rank < 1 || rank >= h.cfg.Ranks {
		return
	}
	h.mu.Lock()
	box := h.mailbox[rank]
	if box.claimed {
		h.mu.Unlock()
		return
	}
	box.claimed = true
	h.mu.Unlock()
	h.finish(box, fmt.Errorf("%w: rank %d never connected: %v", failure.ErrChannel, rank, cause))
}

func (h *Hub) finish(box *mailbox, err error) {
	box.ch <- inbound{err: err}
	close(box.ch)
}

// Receive returns the next fragment from id's rank.
func (h *Hub) Receive(ctx context.Context, id partition.Identity) (mesh.Fragment, error) {
	index, msg, err := h.next(ctx, id)
	if err != nil {
		return mesh.Fragment{}, err
	}
	if msg.Type != schema.MsgFragment {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: unexpected message type %d", failure.ErrChannel, msg.Type))
	}
	return msg.Fragment, nil
}

// next pops the head of id's mailbox, turning failure frames and channel
// errors into partition errors for id's index.
func (h *Hub) next(ctx context.Context, id partition.Identity) (int, session.Message, error) {
	index, err := h.cfg.Scheme.GlobalIndex(id)
	if err != nil {
		return -1, session.Message{}, failure.New(-1, failure.StageTransfer, err)
	}
	if id.Rank < 1 || id.Rank >= h.cfg.Ranks {
		return index, session.Message{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: rank %d outside [1,%d)", failure.ErrConfiguration, id.Rank, h.cfg.Ranks))
	}
	timer := time.NewTimer(h.cfg.Session.ReceiveTimeout)
	defer timer.Stop()

	var in inbound
	var ok bool
	select {
	case <-ctx.Done():
		return index, session.Message{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: %v", failure.ErrChannel, ctx.Err()))
	case <-h.closedCh:
		return index, session.Message{}, failure.New(index, failure.StageTransfer, ErrHubClosed)
	case <-timer.C:
		return index, session.Message{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: rank %d after %s", ErrReceiveTimeout, id.Rank, h.cfg.Session.ReceiveTimeout))
	case in, ok = <-h.mailbox[id.Rank].ch:
	}
	if !ok {
		return index, session.Message{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: rank %d has no more messages", failure.ErrChannel, id.Rank))
	}
	if in.err != nil {
		return index, session.Message{}, failure.New(index, failure.StageTransfer, in.err)
	}
	if in.msg.Owner != index {
		return index, session.Message{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: expected partition %d, rank %d sent %d", failure.ErrChannel, index, id.Rank, in.msg.Owner))
	}
	if in.msg.Type == schema.MsgFailure {
		return index, session.Message{}, in.msg.Failure
	}
	return index, in.msg, nil
}

// Close stops accepting, drops every connection and waits for readers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		for conn := range h.conns {
			_ = conn.Close()
		}
		h.mu.Unlock()
		close(h.closedCh)
	})
	h.readers.Wait()
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) track(conn net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.readers.Add(1)
	return true
}

func (h *Hub) untrack(conn net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

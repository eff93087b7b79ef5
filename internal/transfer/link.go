package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/protocol/frame"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrHelloRejected = errors.New("transfer: hello rejected")

// Link is the worker end of the network message channel.
type Link struct {
	conn   net.Conn
	rank   int
	cfg    session.Config
	limits frame.Limits

	mu sync.Mutex
}

// Dial connects to the collector at addr with backoff and completes the
// hello handshake. A rejected hello is not retried.
func Dial(ctx context.Context, addr string, hello session.Hello, cfg session.Config) (*Link, error) {
	cfg = cfg.WithDefaults()
	if err := hello.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrConfiguration, err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxConnectAttempts; attempt++ {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			link, herr := handshake(conn, hello, cfg)
			if herr == nil {
				return link, nil
			}
			_ = conn.Close()
			if errors.Is(herr, ErrHelloRejected) {
				return nil, herr
			}
			err = herr
		}
		lastErr = err
		log.Debug().Int("rank", hello.Rank).Int("attempt", attempt).Err(err).Msg("transfer.Dial retry")
		if attempt == cfg.MaxConnectAttempts {
			break
		}
		if err := waitBackoff(ctx, cfg.DialDelay(attempt, rng)); err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", failure.ErrChannel, addr, err)
		}
	}
	return nil, fmt.Errorf("%w: dial %s after %d attempts: %v", failure.ErrChannel, addr, cfg.MaxConnectAttempts, lastErr)
}

func handshake(conn net.Conn, hello session.Hello, cfg session.Config) (*Link, error) {
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	if err := session.WriteHello(conn, hello); err != nil {
		return nil, err
	}
	ack, err := session.ReadHelloAck(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	if !ack.Accepted() {
		return nil, fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})
	return &Link{conn: conn, rank: hello.Rank, cfg: cfg, limits: cfg.Limits()}, nil
}

func waitBackoff(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Link) Rank() int {
	return l.rank
}

func (l *Link) Send(ctx context.Context, f mesh.Fragment) error {
	out, err := session.EncodeFragment(l.rank, f)
	if err != nil {
		return fmt.Errorf("%w: encode partition %d: %v", failure.ErrChannel, f.Owner, err)
	}
	return l.write(ctx, out)
}

func (l *Link) Fail(ctx context.Context, pe *failure.PartitionError) error {
	out, err := session.EncodeFailure(l.rank, pe)
	if err != nil {
		return fmt.Errorf("%w: encode failure of partition %d: %v", failure.ErrChannel, pe.Index, err)
	}
	return l.write(ctx, out)
}

// Relay announces a fragment already written to path.
func (l *Link) Relay(ctx context.Context, owner int, path string) error {
	out, err := session.EncodeRelay(l.rank, owner, path)
	if err != nil {
		return fmt.Errorf("%w: encode relay of partition %d: %v", failure.ErrChannel, owner, err)
	}
	return l.write(ctx, out)
}

// write blocks until the frame is handed to the kernel, the write timeout
// passes or ctx ends.
func (l *Link) write(ctx context.Context, f frame.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrChannel, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.conn.SetWriteDeadline(time.Now()) })
	defer stop()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := frame.WriteFrame(l.conn, f, l.limits); err != nil {
		return fmt.Errorf("%w: rank %d write: %v", failure.ErrChannel, l.rank, err)
	}
	return nil
}

func (l *Link) Close() error {
	return l.conn.Close()
}

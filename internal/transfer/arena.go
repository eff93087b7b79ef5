package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"golang.org/x/sync/errgroup"
)

var ErrArenaNotJoined = fmt.Errorf("%w: arena read before join", failure.ErrChannel)

// Producer computes the fragment of one thread slot.
type Producer func(ctx context.Context, thread int) (mesh.Fragment, error)

type slot struct {
	frag  mesh.Fragment
	err   error
	taken bool
}

// Arena holds one result slot per thread. Each goroutine writes only its
// own slot; slots are read after Run has joined every goroutine.
type Arena struct {
	scheme partition.Scheme
	slots  []slot

	mu     sync.Mutex
	joined bool
}

func NewArena(scheme partition.Scheme, size int) *Arena {
	return &Arena{scheme: scheme, slots: make([]slot, size)}
}

func (a *Arena) Size() int {
	return len(a.slots)
}

// Run forks one goroutine per slot and waits for all of them. Producer
// errors stay in their slot and never cancel siblings.
func (a *Arena) Run(ctx context.Context, produce Producer) error {
	a.mu.Lock()
	if a.joined {
		a.mu.Unlock()
		return fmt.Errorf("%w: arena already ran", failure.ErrChannel)
	}
	a.mu.Unlock()

	var g errgroup.Group
	for thread := range a.Size() {
		g.Go(func() error {
			frag, err := produce(ctx, thread)
			s := &a.slots[thread]
			if err != nil {
				s.err = err
				return nil
			}
			s.frag = frag
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	a.joined = true
	a.mu.Unlock()
	return ctx.Err()
}

// Receive moves the fragment out of id's slot. A slot can be taken once.
func (a *Arena) Receive(_ context.Context, id partition.Identity) (mesh.Fragment, error) {
	index, err := a.scheme.GlobalIndex(id)
	if err != nil {
		return mesh.Fragment{}, failure.New(-1, failure.StageTransfer, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.joined {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer, ErrArenaNotJoined)
	}
	if id.Thread < 0 || id.Thread >= a.Size() {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: no slot for thread %d", failure.ErrChannel, id.Thread))
	}
	s := &a.slots[id.Thread]
	if s.taken {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: slot %d already taken", failure.ErrChannel, id.Thread))
	}
	s.taken = true
	frag, serr := s.frag, s.err
	s.frag = mesh.Fragment{}
	if serr != nil {
		return mesh.Fragment{}, failure.Partition(index, failure.StageTransfer, serr)
	}
	if frag.Owner != index {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: slot %d holds partition %d", failure.ErrChannel, id.Thread, frag.Owner))
	}
	return frag, nil
}

// Forward sends every slot through out in thread order. Partition
// failures are forwarded as failure messages; the first error from out
// itself stops the walk.
func (a *Arena) Forward(ctx context.Context, rank int, out Sender) (failed int, err error) {
	for thread := range a.Size() {
		id := partition.Identity{Rank: rank, Thread: thread, ThreadsPerRank: a.scheme.ThreadsPerRank}
		frag, rerr := a.Receive(ctx, id)
		if rerr != nil {
			var pe *failure.PartitionError
			if !errors.As(rerr, &pe) {
				return failed, rerr
			}
			failed++
			if err := out.Fail(ctx, pe); err != nil {
				return failed, err
			}
			continue
		}
		if err := out.Send(ctx, frag); err != nil {
			var pe *failure.PartitionError
			if errors.As(err, &pe) {
				failed++
				continue
			}
			return failed, err
		}
	}
	return failed, nil
}

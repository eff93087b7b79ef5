package partition

import (
	"fmt"

	"github.com/danmuck/isogather/internal/failure"
)

// Plan lists every worker identity in collector visiting order: ascending
// rank, then ascending thread within a rank. ranks counts all processes,
// including the collector at rank 0, which never owns a partition.
func Plan(strategy Strategy, ranks, threads int) ([]Identity, error) {
	switch strategy {
	case ProcessOnly:
		if ranks < 2 {
			return nil, fmt.Errorf("%w: process mode needs at least 2 ranks, got %d", failure.ErrConfiguration, ranks)
		}
		out := make([]Identity, 0, ranks-1)
		for r := 1; r < ranks; r++ {
			out = append(out, Identity{Rank: r, ThreadsPerRank: 1})
		}
		return out, nil
	case ThreadOnly:
		if threads < 1 {
			return nil, fmt.Errorf("%w: thread mode needs at least 1 thread, got %d", failure.ErrConfiguration, threads)
		}
		out := make([]Identity, 0, threads)
		for t := range threads {
			out = append(out, Identity{Thread: t, ThreadsPerRank: threads})
		}
		return out, nil
	case Hybrid:
		if ranks < 2 {
			return nil, fmt.Errorf("%w: hybrid mode needs at least 2 ranks, got %d", failure.ErrConfiguration, ranks)
		}
		if threads < 1 {
			return nil, fmt.Errorf("%w: hybrid mode needs at least 1 thread per rank, got %d", failure.ErrConfiguration, threads)
		}
		out := make([]Identity, 0, (ranks-1)*threads)
		for r := 1; r < ranks; r++ {
			for t := range threads {
				out = append(out, Identity{Rank: r, Thread: t, ThreadsPerRank: threads})
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %s", failure.ErrConfiguration, strategy)
	}
}

// MessagesPerRank is how many fragments one worker process delivers.
func MessagesPerRank(strategy Strategy, threads int) int {
	if strategy == Hybrid {
		return threads
	}
	return 1
}

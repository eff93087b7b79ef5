package transfer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/danmuck/isogather/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ReceiveTimeout = 5 * time.Second
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	return cfg
}

// startHub serves a hub on a loopback listener until the test ends.
func startHub(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()
	hub, err := NewHub(cfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		hub.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return hub, ln.Addr().String()
}

func hello(cfg HubConfig, rank int) session.Hello {
	return session.Hello{
		RunID:    cfg.RunID,
		Rank:     rank,
		Threads:  partition.MessagesPerRank(cfg.Scheme.Strategy, cfg.Scheme.ThreadsPerRank),
		Strategy: cfg.Scheme.Strategy.String(),
	}
}

func dial(t *testing.T, addr string, h session.Hello) *Link {
	t.Helper()
	link, err := Dial(context.Background(), addr, h, testSession())
	require.NoError(t, err)
	t.Cleanup(func() { _ = link.Close() })
	return link
}

func processConfig(ranks int) HubConfig {
	return HubConfig{
		Scheme:  partition.Scheme{Strategy: partition.ProcessOnly, Prefix: "volume"},
		Ranks:   ranks,
		RunID:   uuid.NewString(),
		Session: testSession(),
	}
}

func TestHubGathersEveryRankInOrder(t *testing.T) {
	testlog.Start(t)
	cfg := processConfig(4)
	hub, addr := startHub(t, cfg)

	// ranks connect and send in reverse order
	for rank := 3; rank >= 1; rank-- {
		link := dial(t, addr, hello(cfg, rank))
		require.NoError(t, link.Send(context.Background(), mesh.Fragment{Owner: rank - 1, Mesh: triangleMesh(float64(rank))}))
	}
	for rank := 1; rank <= 3; rank++ {
		frag, err := hub.Receive(context.Background(), partition.Identity{Rank: rank})
		require.NoError(t, err)
		assert.Equal(t, rank-1, frag.Owner)
		assert.Equal(t, float64(rank), frag.Mesh.Points[0].Z)
	}
}

func TestHubHybridFramesStayPerThread(t *testing.T) {
	testlog.Start(t)
	cfg := HubConfig{
		Scheme:  partition.Scheme{Strategy: partition.Hybrid, Prefix: "volume", ThreadsPerRank: 2},
		Ranks:   2,
		RunID:   uuid.NewString(),
		Session: testSession(),
	}
	hub, addr := startHub(t, cfg)
	link := dial(t, addr, hello(cfg, 1))
	require.NoError(t, link.Send(context.Background(), mesh.Fragment{Owner: 0, Mesh: triangleMesh(0)}))
	require.NoError(t, link.Fail(context.Background(), failure.New(1, failure.StageLoad, failure.ErrFileNotFound)))

	frag, err := hub.Receive(context.Background(), partition.Identity{Rank: 1, Thread: 0, ThreadsPerRank: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, frag.Owner)

	_, err = hub.Receive(context.Background(), partition.Identity{Rank: 1, Thread: 1, ThreadsPerRank: 2})
	assert.ErrorIs(t, err, failure.ErrFileNotFound)
	var pe *failure.PartitionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, failure.StageLoad, pe.Stage)
}

func TestHubRejectsBadHellos(t *testing.T) {
	testlog.Start(t)
	cfg := processConfig(3)
	_, addr := startHub(t, cfg)
	dial(t, addr, hello(cfg, 1))

	cases := map[string]session.Hello{
		"run id":    {RunID: uuid.NewString(), Rank: 2, Threads: 1, Strategy: "process"},
		"rank":      {RunID: cfg.RunID, Rank: 3, Threads: 1, Strategy: "process"},
		"duplicate": hello(cfg, 1),
		"threads":   {RunID: cfg.RunID, Rank: 2, Threads: 4, Strategy: "process"},
		"strategy":  {RunID: cfg.RunID, Rank: 2, Threads: 1, Strategy: "hybrid"},
	}
	for name, h := range cases {
		_, err := Dial(context.Background(), addr, h, testSession())
		assert.ErrorIs(t, err, ErrHelloRejected, name)
	}
}

func TestHubConnectionLossFailsRemainingMessages(t *testing.T) {
	testlog.Start(t)
	cfg := HubConfig{
		Scheme:  partition.Scheme{Strategy: partition.Hybrid, Prefix: "volume", ThreadsPerRank: 3},
		Ranks:   2,
		RunID:   uuid.NewString(),
		Session: testSession(),
	}
	hub, addr := startHub(t, cfg)
	link := dial(t, addr, hello(cfg, 1))
	require.NoError(t, link.Send(context.Background(), mesh.Fragment{Owner: 0, Mesh: triangleMesh(0)}))
	require.NoError(t, link.Close())

	ctx := context.Background()
	_, err := hub.Receive(ctx, partition.Identity{Rank: 1, Thread: 0, ThreadsPerRank: 3})
	require.NoError(t, err)
	for thread := 1; thread < 3; thread++ {
		_, err := hub.Receive(ctx, partition.Identity{Rank: 1, Thread: thread, ThreadsPerRank: 3})
		assert.ErrorIs(t, err, failure.ErrChannel, "thread %d", thread)
		var pe *failure.PartitionError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, thread, pe.Index)
		assert.Equal(t, failure.StageTransfer, pe.Stage)
	}
}

func TestHubReceiveIsBounded(t *testing.T) {
	testlog.Start(t)
	cfg := processConfig(2)
	cfg.Session.ReceiveTimeout = 50 * time.Millisecond
	hub, _ := startHub(t, cfg)
	start := time.Now()
	_, err := hub.Receive(context.Background(), partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHubReceiveHonoursContext(t *testing.T) {
	testlog.Start(t)
	hub, _ := startHub(t, processConfig(2))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := hub.Receive(ctx, partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, failure.ErrChannel)
}

func TestHubAbandonedRank(t *testing.T) {
	testlog.Start(t)
	cfg := processConfig(3)
	hub, addr := startHub(t, cfg)
	hub.Abandon(2, errors.New("exit status 1"))

	_, err := hub.Receive(context.Background(), partition.Identity{Rank: 2})
	assert.ErrorIs(t, err, failure.ErrChannel)
	assert.Contains(t, err.Error(), "exit status 1")

	_, err = Dial(context.Background(), addr, hello(cfg, 2), testSession())
	assert.ErrorIs(t, err, ErrHelloRejected)
}

func TestHubOwnerMismatchIsChannelError(t *testing.T) {
	testlog.Start(t)
	cfg := processConfig(2)
	hub, addr := startHub(t, cfg)
	link := dial(t, addr, hello(cfg, 1))
	require.NoError(t, link.Send(context.Background(), mesh.Fragment{Owner: 4, Mesh: triangleMesh(0)}))
	_, err := hub.Receive(context.Background(), partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, failure.ErrChannel)
}

func TestNewHubConfiguration(t *testing.T) {
	_, err := NewHub(HubConfig{Scheme: partition.Scheme{Strategy: partition.ThreadOnly, Prefix: "v", ThreadsPerRank: 2}, Ranks: 2})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	_, err = NewHub(HubConfig{Scheme: partition.Scheme{Strategy: partition.ProcessOnly, Prefix: "v"}, Ranks: 1})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestDialGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := processConfig(2)
	_, err = Dial(context.Background(), addr, hello(cfg, 1), testSession())
	assert.ErrorIs(t, err, failure.ErrChannel)
}

func TestRelayRemovesTempFileAfterMerge(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	files := RelayFiles{Dir: dir, TmpPrefix: "tmp"}
	cfg := processConfig(14)
	hub, addr := startHub(t, cfg)
	recv := &RelayReceiver{Hub: hub, Files: files}

	link := dial(t, addr, hello(cfg, 13))
	sender := &RelaySender{Link: link, Files: files}
	require.NoError(t, sender.Send(context.Background(), mesh.Fragment{Owner: 12, Mesh: triangleMesh(2)}))

	tmp := filepath.Join(dir, "tmp12.vtk")
	_, err := os.Stat(tmp)
	require.NoError(t, err, "temp file should exist until the collector reads it")

	frag, err := recv.Receive(context.Background(), partition.Identity{Rank: 13})
	require.NoError(t, err)
	assert.Equal(t, 12, frag.Owner)
	assert.Equal(t, 1, frag.Mesh.NumTriangles())
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temp file left behind: %v", err)
}

func TestRelayRemovesUnreadableTempFile(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	files := RelayFiles{Dir: dir, TmpPrefix: "tmp"}
	cfg := processConfig(2)
	hub, addr := startHub(t, cfg)
	recv := &RelayReceiver{Hub: hub, Files: files}

	tmp := files.Path(0)
	require.NoError(t, os.WriteFile(tmp, []byte("not a vtk file\n"), 0o644))
	link := dial(t, addr, hello(cfg, 1))
	require.NoError(t, link.Relay(context.Background(), 0, tmp))

	_, err := recv.Receive(context.Background(), partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, failure.ErrParse)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestRelayRejectsForeignPath(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfg := processConfig(2)
	hub, addr := startHub(t, cfg)
	recv := &RelayReceiver{Hub: hub, Files: RelayFiles{Dir: dir, TmpPrefix: "tmp"}}

	foreign := filepath.Join(dir, "volume0.vtk")
	require.NoError(t, os.WriteFile(foreign, []byte("input"), 0o644))
	link := dial(t, addr, hello(cfg, 1))
	require.NoError(t, link.Relay(context.Background(), 0, foreign))

	_, err := recv.Receive(context.Background(), partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, failure.ErrChannel)
	_, err = os.Stat(foreign)
	assert.NoError(t, err, "input file must not be touched")
}

func TestRelayTempWriteFailureTravelsAsFailure(t *testing.T) {
	testlog.Start(t)
	files := RelayFiles{Dir: filepath.Join(t.TempDir(), "missing"), TmpPrefix: "tmp"}
	cfg := processConfig(2)
	hub, addr := startHub(t, cfg)
	recv := &RelayReceiver{Hub: hub, Files: files}
	link := dial(t, addr, hello(cfg, 1))
	sender := &RelaySender{Link: link, Files: files}

	err := sender.Send(context.Background(), mesh.Fragment{Owner: 0, Mesh: triangleMesh(0)})
	var pe *failure.PartitionError
	require.ErrorAs(t, err, &pe)

	_, err = recv.Receive(context.Background(), partition.Identity{Rank: 1})
	assert.ErrorIs(t, err, failure.ErrChannel)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, failure.StageTransfer, pe.Stage)
	assert.Equal(t, 0, pe.Index)
}

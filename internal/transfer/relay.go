package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/schema"
	"github.com/danmuck/isogather/internal/vtkio"
	"github.com/rs/zerolog/log"
)

// RelayFiles names the temp files of the disk relay.
type RelayFiles struct {
	Dir       string
	TmpPrefix string
	Ext       string
}

func (r RelayFiles) Path(index int) string {
	return partition.TempPath(r.Dir, r.TmpPrefix, index, r.Ext)
}

// RelaySender writes each fragment to its temp file and announces the
// path over the link. The collector deletes the file once announced.
type RelaySender struct {
	Link  *Link
	Files RelayFiles
}

func (s *RelaySender) Send(ctx context.Context, f mesh.Fragment) error {
	path := s.Files.Path(f.Owner)
	m := f.Mesh
	if m == nil {
		m = &mesh.Mesh{}
	}
	if err := vtkio.WritePolyData(path, m); err != nil {
		pe := failure.New(f.Owner, failure.StageTransfer, fmt.Errorf("%w: %v", failure.ErrChannel, err))
		if ferr := s.Link.Fail(ctx, pe); ferr != nil {
			return ferr
		}
		return pe
	}
	if err := s.Link.Relay(ctx, f.Owner, path); err != nil {
		// the collector never learned about the file
		_ = os.Remove(path)
		return err
	}
	log.Debug().Int("index", f.Owner).Str("path", path).Msg("transfer.RelaySender.Send relayed")
	return nil
}

func (s *RelaySender) Fail(ctx context.Context, pe *failure.PartitionError) error {
	return s.Link.Fail(ctx, pe)
}

// RelayReceiver loads announced temp files through a Hub.
type RelayReceiver struct {
	Hub   *Hub
	Files RelayFiles
}

func (r *RelayReceiver) Receive(ctx context.Context, id partition.Identity) (mesh.Fragment, error) {
	index, msg, err := r.Hub.next(ctx, id)
	if err != nil {
		return mesh.Fragment{}, err
	}
	if msg.Type != schema.MsgRelay {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: unexpected message type %d", failure.ErrChannel, msg.Type))
	}
	want := r.Files.Path(index)
	if filepath.Clean(msg.Path) != filepath.Clean(want) {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer,
			fmt.Errorf("%w: relay path %q, expected %q", failure.ErrChannel, msg.Path, want))
	}
	defer removeRelayed(index, want)

	m, err := vtkio.ReadPolyData(want)
	if err != nil {
		return mesh.Fragment{}, failure.New(index, failure.StageTransfer, err)
	}
	return mesh.Fragment{Owner: index, Mesh: m}, nil
}

func removeRelayed(index int, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Int("index", index).Str("path", path).Err(err).Msg("transfer.RelayReceiver remove failed")
	}
}

package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/protocol/frame"
	"github.com/danmuck/isogather/internal/protocol/schema"
	"github.com/danmuck/isogather/internal/protocol/tlv"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrUnexpectedTag = errors.New("session: unexpected frame tag")
	ErrMalformedMesh = errors.New("session: malformed mesh payload")
)

// Message is one decoded worker->collector frame. Exactly one of Fragment,
// Failure and Path is meaningful, selected by Type.
type Message struct {
	Type     uint32
	Source   int
	Owner    int
	Fragment mesh.Fragment
	Failure  *failure.PartitionError
	Path     string
}

func EncodeFragment(source int, f mesh.Fragment) (frame.Frame, error) {
	m := f.Mesh
	if m == nil {
		m = &mesh.Mesh{}
	}
	if err := m.Validate(); err != nil {
		return frame.Frame{}, err
	}
	fields := []tlv.Field{
		tlv.U32(schema.FieldOwner, ownerToWire(f.Owner)),
		tlv.Bytes(schema.FieldPoints, putVecs(m.Points)),
		tlv.Bytes(schema.FieldTriangles, putTriangles(m.Triangles)),
		tlv.Bytes(schema.FieldNormals, putVecs(m.Normals)),
	}
	return encode(schema.MsgFragment, source, 0, fields)
}

func EncodeFailure(source int, pe *failure.PartitionError) (frame.Frame, error) {
	fields := []tlv.Field{
		tlv.U32(schema.FieldOwner, ownerToWire(pe.Index)),
		tlv.String(schema.FieldStage, string(pe.Stage)),
		tlv.U32(schema.FieldCode, uint32(failure.CodeOf(pe.Err))),
		tlv.String(schema.FieldMessage, errorText(pe.Err)),
	}
	return encode(schema.MsgFailure, source, frame.FlagIsError, fields)
}

// EncodeRelay announces a fragment written to path.
func EncodeRelay(source, owner int, path string) (frame.Frame, error) {
	fields := []tlv.Field{
		tlv.U32(schema.FieldOwner, ownerToWire(owner)),
		tlv.String(schema.FieldPath, path),
	}
	return encode(schema.MsgRelay, source, 0, fields)
}

func Decode(f frame.Frame) (Message, error) {
	if f.Header.Tag != schema.TagFragment {
		return Message{}, fmt.Errorf("%w: %d", ErrUnexpectedTag, f.Header.Tag)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return Message{}, err
	}
	rawOwner, err := tlv.U32FromBytes(field(fields, schema.FieldOwner))
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:   f.Header.MessageType,
		Source: int(f.Header.Source),
		Owner:  ownerFromWire(rawOwner),
	}

	switch msg.Type {
	case schema.MsgFragment:
		m := &mesh.Mesh{}
		if m.Points, err = vecs(field(fields, schema.FieldPoints)); err != nil {
			return Message{}, err
		}
		if m.Triangles, err = triangles(field(fields, schema.FieldTriangles)); err != nil {
			return Message{}, err
		}
		if m.Normals, err = vecs(field(fields, schema.FieldNormals)); err != nil {
			return Message{}, err
		}
		if err := m.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMesh, err)
		}
		msg.Fragment = mesh.Fragment{Owner: msg.Owner, Mesh: m}
	case schema.MsgFailure:
		code, err := tlv.U32FromBytes(field(fields, schema.FieldCode))
		if err != nil {
			return Message{}, err
		}
		msg.Failure = failure.Remote(
			msg.Owner,
			failure.Stage(field(fields, schema.FieldStage)),
			failure.Code(code),
			string(field(fields, schema.FieldMessage)),
		)
	case schema.MsgRelay:
		msg.Path = string(field(fields, schema.FieldPath))
	}
	return msg, nil
}

func encode(messageType uint32, source int, flags uint32, fields []tlv.Field) (frame.Frame, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			Tag:         schema.TagFragment,
			Source:      uint32(source),
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

func field(fields []tlv.Field, id uint16) []byte {
	f, _ := tlv.GetField(fields, id)
	return f.Value
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// owners travel as the two's complement of an int32 so an unresolved
// partition (-1) survives the trip.
func ownerToWire(owner int) uint32 {
	return uint32(int32(owner))
}

func ownerFromWire(v uint32) int {
	return int(int32(v))
}

func putVecs(vs []r3.Vec) []byte {
	out := make([]byte, 24*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint64(out[24*i:], math.Float64bits(v.X))
		binary.BigEndian.PutUint64(out[24*i+8:], math.Float64bits(v.Y))
		binary.BigEndian.PutUint64(out[24*i+16:], math.Float64bits(v.Z))
	}
	return out
}

func vecs(b []byte) ([]r3.Vec, error) {
	if len(b)%24 != 0 {
		return nil, fmt.Errorf("%w: vector block of %d bytes", ErrMalformedMesh, len(b))
	}
	out := make([]r3.Vec, len(b)/24)
	for i := range out {
		out[i] = r3.Vec{
			X: math.Float64frombits(binary.BigEndian.Uint64(b[24*i:])),
			Y: math.Float64frombits(binary.BigEndian.Uint64(b[24*i+8:])),
			Z: math.Float64frombits(binary.BigEndian.Uint64(b[24*i+16:])),
		}
	}
	return out, nil
}

func putTriangles(ts [][3]int) []byte {
	out := make([]byte, 12*len(ts))
	for i, t := range ts {
		binary.BigEndian.PutUint32(out[12*i:], uint32(t[0]))
		binary.BigEndian.PutUint32(out[12*i+4:], uint32(t[1]))
		binary.BigEndian.PutUint32(out[12*i+8:], uint32(t[2]))
	}
	return out
}

func triangles(b []byte) ([][3]int, error) {
	if len(b)%12 != 0 {
		return nil, fmt.Errorf("%w: triangle block of %d bytes", ErrMalformedMesh, len(b))
	}
	out := make([][3]int, len(b)/12)
	for i := range out {
		out[i] = [3]int{
			int(binary.BigEndian.Uint32(b[12*i:])),
			int(binary.BigEndian.Uint32(b[12*i+4:])),
			int(binary.BigEndian.Uint32(b[12*i+8:])),
		}
	}
	return out, nil
}

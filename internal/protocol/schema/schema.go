package schema

import (
	"fmt"

	"github.com/danmuck/isogather/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// TagFragment is the fixed tag on every frame a worker sends the collector.
const TagFragment uint32 = 101

// Message type IDs.
const (
	MsgFragment uint32 = 1
	MsgFailure  uint32 = 2
	MsgRelay    uint32 = 3
)

// Field IDs.
const (
	FieldOwner uint16 = 1

	FieldPoints    uint16 = 100
	FieldTriangles uint16 = 101
	FieldNormals   uint16 = 102

	FieldStage   uint16 = 200
	FieldCode    uint16 = 201
	FieldMessage uint16 = 202

	FieldPath uint16 = 300
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgFragment: {
		{FieldOwner, tlv.TypeU32},
		{FieldPoints, tlv.TypeBytes},
		{FieldTriangles, tlv.TypeBytes},
		{FieldNormals, tlv.TypeBytes},
	},
	MsgFailure: {
		{FieldOwner, tlv.TypeU32},
		{FieldStage, tlv.TypeString},
		{FieldCode, tlv.TypeU32},
		{FieldMessage, tlv.TypeString},
	},
	MsgRelay: {
		{FieldOwner, tlv.TypeU32},
		{FieldPath, tlv.TypeString},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("message_type", messageType).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Uint32("message_type", messageType).Msg("schema.Validate ok")
	return nil
}

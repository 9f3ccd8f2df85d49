package bridge

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
)

// Log record body field numbers
const (
	logFieldMessage protowire.Number = 1
	logFieldDetail  protowire.Number = 2
)

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func encodeFloat(v float32) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
}

// decodeFloat reads the big-endian float following the tag byte
func decodeFloat(payload []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(payload[1:5]))
}

// encodeLog lays out [level][field 1: message][field 2: detail]
func encodeLog(level cell.Level, message, detail string) []byte {
	b := []byte{byte(level)}
	b = protowire.AppendTag(b, logFieldMessage, protowire.BytesType)
	b = protowire.AppendString(b, message)
	if detail != "" {
		b = protowire.AppendTag(b, logFieldDetail, protowire.BytesType)
		b = protowire.AppendString(b, detail)
	}
	return b
}

// decodeLog parses a log body (the payload after the tag byte). Unknown
// fields are skipped.
func decodeLog(body []byte) (level cell.Level, message, detail string, err error) {
	if len(body) == 0 {
		return 0, "", "", fmt.Errorf("log record missing level")
	}
	level = cell.Level(body[0])
	b := body[1:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, "", "", fmt.Errorf("log record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == logFieldMessage && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return 0, "", "", fmt.Errorf("log record message: %w", protowire.ParseError(m))
			}
			message = v
			b = b[m:]
		case num == logFieldDetail && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return 0, "", "", fmt.Errorf("log record detail: %w", protowire.ParseError(m))
			}
			detail = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return 0, "", "", fmt.Errorf("log record field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return level, message, detail, nil
}

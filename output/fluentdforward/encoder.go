package fluentdforward

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/relex/fluentlib/protocol/forwardprotocol"
	"github.com/relex/slog-ingest/output/baseoutput"
	"github.com/vmihailenco/msgpack/v4"
)

// msgBufCapacity is the initial capacity of reused message buffer
const msgBufCapacity = 64 * 1024

type encoder struct {
	tag                  string
	requireAck           bool
	reusedMsgpackEncoder *msgpack.Encoder // encoder for final message
	reusedMessageBuffer  *bytes.Buffer    // buffer for final message
}

func newEncoder(tag string, requireAck bool) *encoder {
	msgBuffer := bytes.NewBuffer(make([]byte, 0, msgBufCapacity))
	return &encoder{
		tag:                  tag,
		requireAck:           requireAck,
		reusedMsgpackEncoder: msgpack.NewEncoder(msgBuffer),
		reusedMessageBuffer:  msgBuffer,
	}
}

func (enc *encoder) Encode(records [][]byte) ([]byte, baseoutput.AckWaiter, error) {
	enc.reusedMessageBuffer.Reset()
	encoder := enc.reusedMsgpackEncoder

	// root array
	if err := encoder.EncodeArrayLen(3); err != nil {
		return nil, nil, err
	}

	// root[0]: tag
	if err := encoder.EncodeString(enc.tag); err != nil {
		return nil, nil, err
	}

	// root[1]: array of events as [time, record]
	if err := encoder.EncodeArrayLen(len(records)); err != nil {
		return nil, nil, err
	}
	now := time.Now()
	for _, rec := range records {
		if err := enc.encodeEvent(now, rec); err != nil {
			return nil, nil, err
		}
	}

	// root[2]: option
	option := forwardprotocol.TransportOption{
		Size: len(records),
	}
	if enc.requireAck {
		option.Chunk = nextChunkID()
	}
	if err := encoder.Encode(option); err != nil {
		return nil, nil, err
	}

	if !enc.requireAck {
		return enc.reusedMessageBuffer.Bytes(), nil, nil
	}
	chunkID := option.Chunk
	return enc.reusedMessageBuffer.Bytes(), func(conn net.Conn) error {
		ack := forwardprotocol.Ack{}
		if err := msgpack.NewDecoder(conn).Decode(&ack); err != nil {
			return err
		}
		if ack.Ack != chunkID {
			return fmt.Errorf("unexpected ACK '%s' for '%s'", ack.Ack, chunkID)
		}
		return nil
	}, nil
}

func (enc *encoder) encodeEvent(timestamp time.Time, record []byte) error {
	encoder := enc.reusedMsgpackEncoder
	if err := encoder.EncodeArrayLen(2); err != nil {
		return err
	}
	encodeEventTime(enc.reusedMessageBuffer, timestamp)
	if err := encoder.EncodeMapLen(1); err != nil {
		return err
	}
	if err := encoder.EncodeString("log"); err != nil {
		return err
	}
	return encoder.EncodeString(string(record))
}

// encodeEventTime writes fluentd EventTime: fixext8 of type 0 with big-endian seconds and nanoseconds
//
// The msgpack encoder writes through to the same buffer without buffering, so raw bytes can be mixed in.
func encodeEventTime(buffer *bytes.Buffer, value time.Time) {
	var ext [10]byte
	ext[0] = 0xd7
	ext[1] = 0
	binary.BigEndian.PutUint32(ext[2:6], uint32(value.Unix()))
	binary.BigEndian.PutUint32(ext[6:10], uint32(value.Nanosecond()))
	buffer.Write(ext[:])
}

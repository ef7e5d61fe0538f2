package fluentdforward

import (
	"encoding/base64"
	"encoding/binary"
	"sync/atomic"
	"time"
)

var (
	chunkIDEpoch    = uint64(time.Now().UnixNano())
	chunkIDSequence uint64
)

// nextChunkID returns a process-unique "chunk" option for ACK: base64 of 128 bits, the process start time in
// nanoseconds followed by a sequence number
func nextChunkID() string {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], chunkIDEpoch)
	binary.BigEndian.PutUint64(raw[8:], atomic.AddUint64(&chunkIDSequence, 1))
	return base64.StdEncoding.EncodeToString(raw[:])
}

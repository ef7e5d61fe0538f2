package tcplistener

import (
	"net"
	"time"
)

// tickReader reads from a connection with a read deadline that expires every tick, so that the consumer gets a
// timeout error to flush buffered records on idle connections
//
// The deadline is only moved forward when less than one tick is left, which saves a syscall on most reads. The real
// interval between timeouts is therefore anything from one to two ticks.
type tickReader struct {
	conn     net.Conn
	tick     time.Duration
	deadline time.Time
}

func newTickReader(conn net.Conn, tick time.Duration) *tickReader {
	return &tickReader{conn: conn, tick: tick}
}

// Deadline returns the current read deadline. A changed value means at least one tick has passed.
func (tr *tickReader) Deadline() time.Time {
	return tr.deadline
}

func (tr *tickReader) Read(p []byte) (int, error) {
	now := time.Now()
	if tr.deadline.Sub(now) < tr.tick {
		next := now.Add(tr.tick * 2)
		if err := tr.conn.SetReadDeadline(next); err != nil {
			return 0, err
		}
		tr.deadline = next
	}
	return tr.conn.Read(p)
}

package baseoutput

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEncoder keeps a copy of every batch and encodes records one per line
type recordingEncoder struct {
	batches [][]string
}

func (enc *recordingEncoder) Encode(records [][]byte) ([]byte, AckWaiter, error) {
	batch := make([]string, 0, len(records))
	for _, rec := range records {
		batch = append(batch, string(rec))
	}
	enc.batches = append(enc.batches, batch)
	return []byte(strings.Join(batch, "\n") + "\n"), nil, nil
}

func launchLineServer(t *testing.T) (string, <-chan string) {
	server, err := maybetls.Bind(logger.WithField("test", t.Name()), "localhost:0", nil, promreg.NewMetricFactory("baseoutput_server_", nil, nil))
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	received := make(chan string, 100)
	go func() {
		result := <-server.AcceptStream()
		if result.Err != nil {
			return
		}
		defer result.Conn.Close()
		scanner := bufio.NewScanner(result.Conn)
		for scanner.Scan() {
			received <- scanner.Text()
		}
	}()
	return server.Addr().String(), received
}

func TestBatchOutput(t *testing.T) {
	address, received := launchLineServer(t)
	mfactory := promreg.NewMetricFactory("baseoutput_batch_", nil, nil)
	upstream, err := NewUpstream(logger.WithField("test", t.Name()), UpstreamConfig{Address: address}, "test", nil, mfactory)
	require.NoError(t, err)

	encoder := &recordingEncoder{}
	output := NewBatchOutput(logger.WithField("test", t.Name()), upstream, func() BatchEncoder { return encoder })
	defer output.Close()

	sink := output.NewSink("127.0.0.1:1000", 10)
	sink.Flush() // nothing to send

	// records must keep their boundaries after the arena grows
	long := bytes.Repeat([]byte("x"), 10000)
	sink.Accept([]byte("a"))
	sink.Accept(long)
	sink.Accept([]byte("b"))
	sink.Flush()

	sink.Accept([]byte("pending"))
	sink.Close()

	assert.Equal(t, [][]string{{"a", string(long), "b"}, {"pending"}}, encoder.batches)
	for _, expected := range []string{"a", string(long), "b", "pending"} {
		select {
		case line := <-received:
			assert.Equal(t, expected, line)
		case <-time.After(defs.TestReadTimeout):
			t.Fatal("timeout")
		}
	}

	output.Close()
	metrics := promext.DumpMetrics("", true, false, mfactory)
	assert.Contains(t, metrics, `baseoutput_batch_output_forwarded_batches_total{output="test"} 2`)
	assert.Contains(t, metrics, `baseoutput_batch_output_forwarded_records_total{output="test"} 4`)
	assert.Contains(t, metrics, `baseoutput_batch_output_opened_sessions_total{output="test"} 1`)
}

// ackGateEncoder writes one line per record, and its acknowledgements wait until release is closed
type ackGateEncoder struct {
	release <-chan struct{}
}

func (enc *ackGateEncoder) Encode(records [][]byte) ([]byte, AckWaiter, error) {
	return append(bytes.Join(records, []byte("\n")), '\n'), func(conn net.Conn) error {
		<-enc.release
		return nil
	}, nil
}

func TestBatchOutputStalledUpstream(t *testing.T) {
	defaultQueueBatches := defs.OutputQueueBatches
	defs.OutputQueueBatches = 1
	t.Cleanup(func() { defs.OutputQueueBatches = defaultQueueBatches })

	address, received := launchLineServer(t)
	mfactory := promreg.NewMetricFactory("baseoutput_stalled_", nil, nil)
	upstream, err := NewUpstream(logger.WithField("test", t.Name()), UpstreamConfig{Address: address}, "test", nil, mfactory)
	require.NoError(t, err)

	release := make(chan struct{})
	output := NewBatchOutput(logger.WithField("test", t.Name()), upstream, func() BatchEncoder {
		return &ackGateEncoder{release: release}
	})
	defer output.Close()

	first := output.NewSink("127.0.0.1:1001", 11)
	second := output.NewSink("127.0.0.1:1002", 12)
	third := output.NewSink("127.0.0.1:1003", 13)

	first.Accept([]byte("one"))
	first.Flush()
	assert.Equal(t, "one", readLine(t, received), "worker is now waiting for ACK")

	flushed := make(chan struct{})
	go func() {
		second.Accept([]byte("two"))
		second.Flush()
		third.Accept([]byte("three"))
		third.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("sinks blocked by a stalled upstream")
	}

	close(release)
	assert.Equal(t, "two", readLine(t, received))
	first.Close()
	second.Close()
	third.Close()
	output.Close()

	metrics := promext.DumpMetrics("", true, false, mfactory)
	assert.Contains(t, metrics, `baseoutput_stalled_output_acknowledged_batches_total{output="test"} 2`)
	assert.Contains(t, metrics, `baseoutput_stalled_output_dropped_records_total{output="test"} 1`, "queue full")
}

func readLine(t *testing.T, received <-chan string) string {
	select {
	case line := <-received:
		return line
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("timeout reading line")
		return ""
	}
}

func TestBatchOutputMaxBytes(t *testing.T) {
	address, _ := launchLineServer(t)
	upstream, err := NewUpstream(logger.WithField("test", t.Name()), UpstreamConfig{Address: address}, "test", nil,
		promreg.NewMetricFactory("baseoutput_maxbytes_", nil, nil))
	require.NoError(t, err)

	encoder := &recordingEncoder{}
	output := NewBatchOutput(logger.WithField("test", t.Name()), upstream, func() BatchEncoder { return encoder })
	defer output.Close()

	sink := output.NewSink("127.0.0.1:1000", 10)
	record := bytes.Repeat([]byte("y"), defs.OutputBatchMaxBytes/2)
	sink.Accept(record)
	assert.Empty(t, encoder.batches)
	sink.Accept(record)
	assert.Len(t, encoder.batches, 1, "flushed automatically on reaching the max batch size")
	sink.Accept([]byte("z"))
	sink.Close()
	assert.Len(t, encoder.batches, 2)
}

func TestUpstreamConfig(t *testing.T) {
	cfg := UpstreamConfig{Address: "localhost:24224"}
	assert.NoError(t, cfg.VerifyConfig())

	cfg.Address = "localhost"
	assert.ErrorContains(t, cfg.VerifyConfig(), ".address has invalid format")

	cfg.Address = "localhost:24224"
	cfg.TLS = maybetls.ClientTLSConfig{Enabled: true, CAFile: "/nonexistent/ca.crt"}
	assert.ErrorContains(t, cfg.VerifyConfig(), ".tls: ")
}

// Package stdoutput provides an output to print messages to stdout, one line per message
package stdoutput

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/defs"
)

// Config defines configuration for stdout output
type Config struct {
	bconfig.Header `yaml:",inline"`
	ShowClient     bool `yaml:"showClient"` // prefix each message with the client address
}

type writerOutput struct {
	logger        logger.Logger
	showClient    bool
	mutex         sync.Mutex
	writer        *bufio.Writer
	messagesTotal promext.RWCounter
}

type writerSink struct {
	output   *writerOutput
	prefix   string
	lines    []byte
	messages int // messages in lines, which may span more than one line each
}

// NewOutput creates the output on os.Stdout
func (cfg *Config) NewOutput(parentLogger logger.Logger, metricCreator promreg.MetricCreator) (base.LogOutput, error) {
	return newWriterOutput(parentLogger, os.Stdout, cfg.ShowClient, metricCreator), nil
}

// VerifyConfig checks configuration
func (cfg *Config) VerifyConfig() error {
	return nil
}

func newWriterOutput(parentLogger logger.Logger, writer io.Writer, showClient bool, metricCreator promreg.MetricCreator) *writerOutput {
	return &writerOutput{
		logger:     parentLogger.WithField(defs.LabelComponent, "StdOutput"),
		showClient: showClient,
		writer:     bufio.NewWriter(writer),
		messagesTotal: metricCreator.AddOrGetCounter("output_printed_messages_total", "Numbers of printed messages",
			[]string{"output"}, []string{"stdout"}),
	}
}

func (output *writerOutput) NewSink(clientAddress string, clientNumber base.ClientNumber) base.MessageReceiverSink {
	sink := &writerSink{output: output}
	if output.showClient {
		sink.prefix = clientAddress + " "
	}
	return sink
}

func (output *writerOutput) Close() {
	output.mutex.Lock()
	defer output.mutex.Unlock()
	if err := output.writer.Flush(); err != nil {
		output.logger.Warn("failed to flush: ", err)
	}
}

func (output *writerOutput) write(lines []byte, count int) {
	output.mutex.Lock()
	defer output.mutex.Unlock()
	if _, err := output.writer.Write(lines); err != nil {
		output.logger.Warn("failed to write: ", err)
		return
	}
	if err := output.writer.Flush(); err != nil {
		output.logger.Warn("failed to flush: ", err)
		return
	}
	output.messagesTotal.Add(uint64(count))
}

func (sink *writerSink) Accept(message []byte) {
	sink.lines = append(sink.lines, sink.prefix...)
	sink.lines = append(sink.lines, message...)
	sink.lines = append(sink.lines, '\n')
	sink.messages++
	if len(sink.lines) >= defs.OutputBatchMaxBytes {
		sink.Flush()
	}
}

func (sink *writerSink) Flush() {
	if len(sink.lines) == 0 {
		return
	}
	sink.output.write(sink.lines, sink.messages)
	sink.lines = sink.lines[:0]
	sink.messages = 0
}

func (sink *writerSink) Close() {
	sink.Flush()
}

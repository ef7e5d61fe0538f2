package tcplistener

import (
	"bytes"
)

type ioReader func(p []byte) (n int, err error)
type recordConsumer func(s []byte)
type headTester func(s []byte) bool

// multiLineReader keeps entire records on buffer for zero heap alloc and minimal moving
//
// With a nil headTester, every non-empty line is a record and consumed as soon as its newline arrives.
//
// With a headTester, records may span multiple lines, for example malformed syslog:
//
//	<163>1 2019-08-15T15:50:46.866915+03:00 local my-app 123 fn - First line
//	Second line
//	<162>1 2019-08-15T15:51:46.866915+03:00 local my-app 123 fn - Next message
//
// Only the starting line of a multi-line record can be identified, not the end. The end is done by periodic
// flush, assuming all lines in a multi-line record would be sent in a very short time.
//
// Trailing CR is removed from every consumed record.
//
// A record which doesn't fit in the buffer is truncated: the part buffered so far, at least softRecordLimit long, is
// consumed and the rest is dropped. In multi-line mode the rest is dropped because it doesn't pass testRecordStart.
type multiLineReader struct {
	readInput       ioReader       // io.Reader.Read
	testRecordStart headTester     // test whether a line is the start of a valid record, not including newline; nil for single-line
	consumeRecord   recordConsumer // callback to consume a record, not including last newline and may be oversized
	softRecordLimit int            // soft limit of record length, may not be applied to every consumeRecord calls
	buffer          []byte         // preallocated buffer
	offsetSearch    int            // point to start of the last line, could be end of buffer
	offsetAppend    int            // point to end of buffer
	discardLine     bool           // single-line mode: skip the rest of an oversized line until its newline
}

func newMultiLineReader(read ioReader, test headTester, minBufferSize, softRecordLimit int, consume recordConsumer) *multiLineReader {
	bufferSize := softRecordLimit * 3
	if bufferSize < minBufferSize {
		bufferSize = minBufferSize
	}
	return &multiLineReader{
		readInput:       read,
		testRecordStart: test,
		consumeRecord:   consume,
		softRecordLimit: softRecordLimit,
		buffer:          make([]byte, bufferSize),
		offsetSearch:    0,
		offsetAppend:    0,
	}
}

// Read reads next block to buffer and consumes any complete records in buffer
//
// It always reads as much as the buffer allows
func (mlr *multiLineReader) Read() error {
	n, err := mlr.readInput(mlr.buffer[mlr.offsetAppend:])
	if n > 0 {
		bufferedLength := n + mlr.offsetAppend
		if mlr.testRecordStart == nil {
			mlr.processLines(bufferedLength)
		} else {
			mlr.processBuffer(bufferedLength)
		}
	}
	return err
}

// Flush considers buffered multi-line record completed and consumes it if valid
func (mlr *multiLineReader) Flush() {
	buffer := mlr.buffer[:mlr.offsetAppend]
	n := bytes.LastIndexByte(buffer, '\n')
	if n == -1 {
		return
	}
	mlr.emit(buffer[:n])
	// relocate unfinished record to the beginning
	mlr.offsetAppend = copy(mlr.buffer, buffer[n+1:])
	mlr.offsetSearch = 0
}

// FlushAll is like Flush but including the last unfinished line, to be done before shutdown
func (mlr *multiLineReader) FlushAll() {
	record := mlr.buffer[:mlr.offsetAppend]
	if len(record) > 0 && record[len(record)-1] == '\n' {
		record = record[:len(record)-1]
	}
	if mlr.discardLine {
		mlr.discardLine = false
	} else {
		mlr.emit(record)
	}
	mlr.offsetAppend = 0
	mlr.offsetSearch = 0
}

func (mlr *multiLineReader) isRecordStart(s []byte) bool {
	if mlr.testRecordStart == nil {
		return len(s) > 0
	}
	return mlr.testRecordStart(s)
}

func (mlr *multiLineReader) emit(record []byte) {
	if n := len(record); n > 0 && record[n-1] == '\r' {
		record = record[:n-1]
	}
	if len(record) > 0 && mlr.isRecordStart(record) {
		mlr.consumeRecord(record)
	}
}

// processLines consumes every complete line in single-line mode
func (mlr *multiLineReader) processLines(bufferEnd int) {
	buffer := mlr.buffer[:bufferEnd]
	lineStart := 0
	for {
		nextEndRel := bytes.IndexByte(buffer[mlr.offsetSearch:], '\n')
		if nextEndRel == -1 {
			break
		}
		nextEnd := nextEndRel + mlr.offsetSearch
		if mlr.discardLine {
			mlr.discardLine = false
		} else {
			mlr.emit(buffer[lineStart:nextEnd])
		}
		lineStart = nextEnd + 1
		mlr.offsetSearch = lineStart
	}
	mlr.offsetAppend = copy(mlr.buffer, buffer[lineStart:])
	mlr.offsetSearch = mlr.offsetAppend
	if len(mlr.buffer)-mlr.offsetAppend < mlr.softRecordLimit {
		// oversized line: deliver what we have and drop the rest of it
		if !mlr.discardLine {
			mlr.emit(mlr.buffer[:mlr.offsetAppend])
		}
		mlr.discardLine = true
		mlr.offsetAppend = 0
		mlr.offsetSearch = 0
	}
}

func (mlr *multiLineReader) processBuffer(bufferEnd int) {
	recordStart := 0
	searchStart := mlr.offsetSearch
	buffer := mlr.buffer[:bufferEnd]
	for {
		nextEndRel := bytes.IndexByte(buffer[searchStart:], '\n')
		if nextEndRel == -1 {
			break
		}
		nextEnd := nextEndRel + searchStart
		// only test if there are previous lines, laid out as: [prev record L1, '\n', prev record L2, '\n', next record L1, '\n']
		if searchStart > 0 && searchStart < nextEnd {
			if mlr.testRecordStart(buffer[searchStart:nextEnd]) {
				mlr.emit(buffer[recordStart : searchStart-1])
				recordStart = searchStart
			}
		}
		searchStart = nextEnd + 1
	}
	if recordStart > 0 {
		mlr.offsetAppend = copy(mlr.buffer, buffer[recordStart:])
		mlr.offsetSearch = searchStart - recordStart
	} else {
		mlr.offsetAppend = bufferEnd
		mlr.offsetSearch = searchStart
	}
	mlr.checkOverflow()
}

func (mlr *multiLineReader) checkOverflow() {
	// if we have room for another record of max length, just leave it
	if len(mlr.buffer)-mlr.offsetAppend >= mlr.softRecordLimit {
		return
	}
	buffer := mlr.buffer[:mlr.offsetAppend]
	if searchStart := mlr.offsetSearch; searchStart > 0 {
		if nextRecord := buffer[searchStart:]; mlr.testRecordStart(nextRecord) {
			mlr.emit(buffer[:searchStart-1])
			mlr.emit(nextRecord)
			mlr.offsetAppend = 0
			mlr.offsetSearch = 0
			return
		}
	}
	mlr.emit(buffer)
	mlr.offsetAppend = 0
	mlr.offsetSearch = 0
}

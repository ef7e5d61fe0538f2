package base

// LogOutput receives raw messages from all inputs and delivers them somewhere, e.g. stdout or an upstream server
type LogOutput interface {
	MultiSinkMessageReceiver

	// Close releases resources after all sinks are closed
	Close()
}

package baseoutput

import (
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/util"
)

// clientMetrics defines metrics shared by network-based output clients
type clientMetrics struct {
	networkErrorsTotal      promext.RWCounter
	nonNetworkErrorsTotal   promext.RWCounter
	openedSessionsTotal     promext.RWCounter
	forwardAttemptsTotal    promext.RWCounter
	forwardedBatchesTotal   promext.RWCounter
	forwardedRecordsTotal   promext.RWCounter
	forwardedBytesTotal     promext.RWCounter
	acknowledgedBatchTotal  promext.RWCounter
	droppedRecordsTotal     promext.RWCounter
	connectionConnectedFlag promext.RWGauge
}

func newClientMetrics(metricCreator promreg.MetricCreator, outputType string) clientMetrics {
	outputMetricCreator := metricCreator.AddOrGetPrefix("output_", []string{"output"}, []string{outputType})

	metrics := clientMetrics{
		networkErrorsTotal:      outputMetricCreator.AddOrGetCounter("network_errors_total", "Numbers of network errors", nil, nil),
		nonNetworkErrorsTotal:   outputMetricCreator.AddOrGetCounter("nonnetwork_errors_total", "Numbers of non-network errors (auth, unexpected response, etc) from upstream", nil, nil),
		openedSessionsTotal:     outputMetricCreator.AddOrGetCounter("opened_sessions_total", "Numbers of opened sessions", nil, nil),
		forwardAttemptsTotal:    outputMetricCreator.AddOrGetCounter("forward_attempts_total", "Numbers of batch forwarding attempts", nil, nil),
		forwardedBatchesTotal:   outputMetricCreator.AddOrGetCounter("forwarded_batches_total", "Numbers of forwarded batches", nil, nil),
		forwardedRecordsTotal:   outputMetricCreator.AddOrGetCounter("forwarded_records_total", "Numbers of forwarded records", nil, nil),
		forwardedBytesTotal:     outputMetricCreator.AddOrGetCounter("forwarded_batch_bytes_total", "Total length in bytes of forwarded batches", nil, nil),
		acknowledgedBatchTotal:  outputMetricCreator.AddOrGetCounter("acknowledged_batches_total", "Numbers of acknowledged batches", nil, nil),
		droppedRecordsTotal:     outputMetricCreator.AddOrGetCounter("dropped_records_total", "Numbers of records dropped due to upstream errors", nil, nil),
		connectionConnectedFlag: outputMetricCreator.AddOrGetGauge("connected", "Whether a connection to upstream is open", nil, nil),
	}
	// the gauge may be left from a previous output with the same metricCreator
	metrics.connectionConnectedFlag.Set(0)

	return metrics
}

// OnError counts the error as network or non-network error
func (metrics *clientMetrics) OnError(err error) {
	if err != nil && util.IsNetworkError(err) {
		metrics.networkErrorsTotal.Inc()
	} else {
		metrics.nonNetworkErrorsTotal.Inc()
	}
}

func (metrics *clientMetrics) OnOpened() {
	metrics.openedSessionsTotal.Inc()
	metrics.connectionConnectedFlag.Set(1)
}

func (metrics *clientMetrics) OnClosed() {
	metrics.connectionConnectedFlag.Set(0)
}

func (metrics *clientMetrics) OnForwarding() {
	metrics.forwardAttemptsTotal.Inc()
}

func (metrics *clientMetrics) OnForwarded(numRecords int, length int) {
	metrics.forwardedBatchesTotal.Inc()
	metrics.forwardedRecordsTotal.Add(uint64(numRecords))
	metrics.forwardedBytesTotal.Add(uint64(length))
}

func (metrics *clientMetrics) OnAcknowledged() {
	metrics.acknowledgedBatchTotal.Inc()
}

func (metrics *clientMetrics) OnDropped(numRecords int) {
	metrics.droppedRecordsTotal.Add(uint64(numRecords))
}

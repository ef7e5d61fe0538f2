package maybetls

import (
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
)

// listenerMetrics defines metrics of a listener and connections accepted on it
type listenerMetrics struct {
	acceptedConnectionsTotal promext.RWCounter
	rejectedConnectionsTotal promext.RWCounter
	acceptErrorsTotal        promext.RWCounter
	handshakesSucceeded      promext.RWCounter
	handshakesFailed         promext.RWCounter
}

func newListenerMetrics(metricCreator promreg.MetricCreator, address string, security string) listenerMetrics {
	lmc := metricCreator.AddOrGetPrefix("listener_", []string{"address", "security"}, []string{address, security})
	handshakes := lmc.AddOrGetCounterVec("handshakes_total", "Numbers of finished TLS handshakes by result", []string{"result"}, nil)
	return listenerMetrics{
		acceptedConnectionsTotal: lmc.AddOrGetCounter("accepted_connections_total", "Numbers of accepted connections", nil, nil),
		rejectedConnectionsTotal: lmc.AddOrGetCounter("rejected_connections_total", "Numbers of connections rejected by peer filter", nil, nil),
		acceptErrorsTotal:        lmc.AddOrGetCounter("accept_errors_total", "Numbers of accept() errors", nil, nil),
		handshakesSucceeded:      handshakes.WithLabelValues("success"),
		handshakesFailed:         handshakes.WithLabelValues("failure"),
	}
}

func (metrics *listenerMetrics) OnHandshake(err error) {
	if err != nil {
		metrics.handshakesFailed.Inc()
	} else {
		metrics.handshakesSucceeded.Inc()
	}
}

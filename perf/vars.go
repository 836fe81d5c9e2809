package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	MergeLatency         = metric.NewHistogram("1m1s")
	SentPacketPerSecond  = metric.NewCounter("10s1s")
	RecvPacketPerSecond  = metric.NewCounter("10s1s")
	FloodsPerSecond      = metric.NewCounter("10s1s")
	AcceptedLSAPerSecond = metric.NewCounter("10s1s")
	StaleLSAPerSecond    = metric.NewCounter("10s1s")
	LinkEvents           = metric.NewCounter("1h1m")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("lsnet:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("lsnet:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("lsnet:Floods/s", FloodsPerSecond)
	expvar.Publish("lsnet:AcceptedLSA/s", AcceptedLSAPerSecond)
	expvar.Publish("lsnet:StaleLSA/s", StaleLSAPerSecond)
	expvar.Publish("lsnet:LinkEvents", LinkEvents)
	expvar.Publish("lsnet:MergeLatency (µs)", MergeLatency)
}

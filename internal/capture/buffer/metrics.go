package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolFreeSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_pool_free_slots",
		Help: "Number of free slots in the frame pool",
	})

	poolAcquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_pool_acquires_total",
		Help: "Total successful frame slot acquisitions",
	})

	poolExhaustionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_pool_exhaustions_total",
		Help: "Total acquire attempts that found no free slot",
	})
)

func updateSlotMetrics(p *Pool) {
	poolFreeSlots.Set(float64(len(p.free)))
}

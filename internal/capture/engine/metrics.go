package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_engine_frames_captured_total",
		Help: "Frames delivered to the capture consumer",
	})

	framesPlayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_engine_frames_played_total",
		Help: "Frames handed to the playback output clock",
	})

	framesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_engine_frames_dropped_total",
		Help: "Frames dropped under backpressure or ordering violations",
	})

	outOfOrderTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_engine_out_of_order_total",
		Help: "Timecode monotonicity violations observed",
	})

	engineStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slate_engine_state",
		Help: "Engine lifecycle state (0 idle, 1 configured, 2 running, 3 stopping)",
	})
)

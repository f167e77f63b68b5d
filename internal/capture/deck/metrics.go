package deck

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deckCommandsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_deck_commands_total",
		Help: "RS-422 transactions completed",
	})

	deckRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_deck_retries_total",
		Help: "RS-422 transaction attempts that timed out or failed",
	})

	deckDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_deck_disconnects_total",
		Help: "Times a deck was declared unresponsive",
	})
)

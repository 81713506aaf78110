// Package replay reconstructs the directory and file skeleton a sorted
// trace presupposes, and re-issues its recorded operations against a live
// mount root.
package replay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	replayedOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ioreplay_replayed_ops_total",
		Help: "Cumulative number of trace records replayed against a mount root.",
	})
	replayedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ioreplay_replayed_bytes_total",
		Help: "Cumulative number of bytes read or written during replay.",
	})
	divergencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ioreplay_divergences_total",
		Help: "Cumulative number of operations whose replayed result diverged from the recorded one.",
	})
	reconstructedNodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ioreplay_reconstructed_nodes_total",
		Help: "Cumulative number of directories and files created during environment reconstruction.",
	})
)

// Package trace models recorded filesystem operations and implements the
// trace file encoding: parsing, canonical (causally consistent) ordering,
// and atomic in-place rewrite.
package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsParsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ioreplay_trace_records_parsed_total",
		Help: "Cumulative number of trace records parsed.",
	})
)

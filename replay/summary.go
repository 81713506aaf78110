package replay

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
)

// Summary aggregates the outcome of a replay run: totals, the wall time the
// replay took versus the time span the recording covered, and every
// non-fatal divergence encountered. Divergences are reported together at
// run completion so a single bad record doesn't hide the remainder of the
// trace.
type Summary struct {
	Ops          int
	ReadBytes    int64
	WrittenBytes int64
	Divergences  []Divergence

	// RecordedSpan is the timestamp span of the replayed trace, and
	// WallTime is how long replaying it actually took.
	RecordedSpan time.Duration
	WallTime     time.Duration
}

// Report writes a human-readable account of the run to |w|.
func (s *Summary) Report(w io.Writer) {
	fmt.Fprintf(w, "replayed %d operations in %s (recorded span %s): %s read, %s written, %d divergences\n",
		s.Ops, s.WallTime.Round(time.Millisecond), s.RecordedSpan.Round(time.Millisecond),
		humanize.Bytes(uint64(s.ReadBytes)), humanize.Bytes(uint64(s.WrittenBytes)),
		len(s.Divergences))

	if len(s.Divergences) == 0 {
		return
	}
	var table = tablewriter.NewWriter(w)
	table.Header("Seq", "Op", "Path", "Recorded", "Observed")

	for _, d := range s.Divergences {
		var err = table.Append([]string{
			strconv.FormatInt(d.Record.SeqNo, 10),
			d.Record.Op.String(),
			d.Record.Path,
			d.Record.Result.String(),
			d.Observed.String(),
		})
		if err != nil {
			log.WithField("err", err).Warn("failed to append divergence row")
		}
	}
	if err := table.Render(); err != nil {
		log.WithField("err", err).Warn("failed to render divergence table")
	}
}

// Package ioreplaycmd implements the ioreplay command surface: exactly one
// of the mutually exclusive sort, reconstruct and replay modes runs per
// invocation. Modes are never chained or inferred: a fresh target is
// prepared by running sort once, then reconstruct, then replay.
package ioreplaycmd

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/iotrace/ioreplay/mainboilerplate"
	"github.com/iotrace/ioreplay/replay"
	"github.com/iotrace/ioreplay/trace"
)

const iniFilename = "ioreplay.ini"

// Distinct exit statuses of fatal failure classes.
const (
	exitMalformed    = 2
	exitOrdering     = 3
	exitMissingSpace = 4
	exitEnvironment  = 5
	exitDivergence   = 6
)

var baseCfg = new(struct {
	Log mainboilerplate.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func startup() {
	mainboilerplate.InitLog(baseCfg.Log)
}

// fail reports a fatal error, identifying the offending record where the
// error names one, and exits with the failure class's distinct status.
func fail(err error) {
	var fields = log.Fields{"err": err}
	var code = 1

	switch e := err.(type) {
	case *trace.MalformedRecordError:
		fields["line"] = e.Line
		code = exitMalformed
	case *trace.OrderingError:
		fields["seq"] = e.Record.SeqNo
		fields["op"] = e.Record.Op.String()
		fields["path"] = e.Record.Path
		code = exitOrdering
	case *replay.MissingSpaceError:
		fields["space"] = e.Space
		code = exitMissingSpace
	case *replay.EnvironmentError:
		fields["seq"] = e.Record.SeqNo
		fields["op"] = e.Record.Op.String()
		fields["path"] = e.Record.Path
		code = exitEnvironment
	case *replay.DivergenceError:
		fields["seq"] = e.Record.SeqNo
		fields["op"] = e.Record.Op.String()
		fields["path"] = e.Record.Path
		code = exitDivergence
	}

	log.WithFields(fields).Error("replay mode failed")
	os.Exit(code)
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	mainboilerplate.Must(err, "failed to add command")
	return cmd
}

// Execute parses configuration and runs the selected sub-command.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	parser.LongDescription = `ioreplay replays a captured trace of filesystem operations against a mounted
filesystem, reproducing a prior recorded workload for testing, debugging, or
benchmarking.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure ioreplay with an '` + iniFilename + `' file in the current working
directory, or with '~/.config/ioreplay/` + iniFilename + `'. Use the 'print-config'
sub-command to inspect the tool's current configuration.
`
	mainboilerplate.AddPrintConfigCmd(parser, iniFilename)

	mustAddCmd(parser.Command, "sort", "Sort a trace file into canonical order", `
Rewrite a trace file, in place and atomically, into the single causally
consistent total order which reconstruction and replay consume. Records of
concurrent recording actors are interleaved on their logical timestamps;
an actor's own records are never reordered relative to each other.

Sorting must be performed exactly once per trace, before reconstruction or
replay. Sorting an already-sorted trace is a no-op.
`, &cmdSort{})

	mustAddCmd(parser.Command, "reconstruct", "Create the environment a trace expects", `
Walk a sorted trace and create, under the mount root, the directory and file
skeleton the recorded workload assumes to find: directories and files it
creates explicitly, and objects it references which pre-existed at record
time. Files are pre-sized; their content is filled in by replay.

Top-level spaces are never created: declare each pre-existing space with
--space, and ensure it exists at the mount root before reconstructing.
`, &cmdReconstruct{})

	mustAddCmd(parser.Command, "replay", "Replay a sorted trace against a mount root", `
Re-issue each recorded operation of a sorted trace, strictly in canonical
order, against the mount root. Observed results are compared with recorded
ones: a divergence of a structural operation (create, mkdir, rename, unlink)
aborts the run, while divergences of content operations are accumulated and
reported as a summary at completion.
`, &cmdReplay{})

	mainboilerplate.MustParseConfig(parser, iniFilename)
}

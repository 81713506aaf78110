package ioreplaycmd

import (
	"context"
	"os"

	"github.com/spf13/afero"

	"github.com/iotrace/ioreplay/replay"
	"github.com/iotrace/ioreplay/trace"
)

type cmdReplay struct {
	Trace  string   `long:"io-trace" short:"i" required:"true" description:"Path to the sorted trace file"`
	Spaces []string `long:"space" short:"s" description:"Name of a pre-existing top-level space. May be repeated."`
	Args   struct {
		MountRoot string `positional-arg-name:"MOUNT_ROOT" description:"Path to the mounted filesystem"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdReplay) Execute([]string) error {
	startup()

	var recs, err = trace.ParseFile(cmd.Trace)
	if err != nil {
		fail(err)
	}

	var rp = replay.NewReplayer(replay.Env{
		FS:     afero.NewOsFs(),
		Root:   cmd.Args.MountRoot,
		Spaces: cmd.Spaces,
	})
	summary, err := rp.Run(context.Background(), recs)
	if summary != nil {
		summary.Report(os.Stdout)
	}
	if err != nil {
		fail(err)
	}
	return nil
}

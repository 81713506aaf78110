package ioreplaycmd

import (
	"context"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/iotrace/ioreplay/replay"
	"github.com/iotrace/ioreplay/trace"
)

type cmdReconstruct struct {
	Trace  string   `long:"io-trace" short:"i" required:"true" description:"Path to the sorted trace file"`
	Spaces []string `long:"space" short:"s" description:"Name of a pre-existing top-level space. May be repeated."`
	Args   struct {
		MountRoot string `positional-arg-name:"MOUNT_ROOT" description:"Path to the mounted filesystem"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdReconstruct) Execute([]string) error {
	startup()

	var recs, err = trace.ParseFile(cmd.Trace)
	if err != nil {
		fail(err)
	}

	var env = replay.Env{
		FS:     afero.NewOsFs(),
		Root:   cmd.Args.MountRoot,
		Spaces: cmd.Spaces,
	}
	stats, err := env.Reconstruct(context.Background(), recs)
	if err != nil {
		fail(err)
	}

	log.WithFields(log.Fields{
		"dirs":     stats.Dirs,
		"files":    stats.Files,
		"presized": humanize.Bytes(uint64(stats.PresizedBytes)),
	}).Info("environment reconstructed")
	return nil
}

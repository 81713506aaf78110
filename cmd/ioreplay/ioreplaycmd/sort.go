package ioreplaycmd

import (
	log "github.com/sirupsen/logrus"

	"github.com/iotrace/ioreplay/trace"
)

type cmdSort struct {
	Spaces []string `long:"space" short:"s" description:"Name of a pre-existing top-level space. May be repeated."`
	Args   struct {
		Trace string `positional-arg-name:"TRACE" description:"Trace file to sort in place"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdSort) Execute([]string) error {
	startup()

	if err := trace.SortFile(cmd.Args.Trace, cmd.Spaces); err != nil {
		fail(err)
	}
	log.WithField("trace", cmd.Args.Trace).Info("trace is in canonical order")
	return nil
}

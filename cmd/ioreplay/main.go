package main

import (
	"github.com/iotrace/ioreplay/cmd/ioreplay/ioreplaycmd"
)

func main() {
	ioreplaycmd.Execute()
}

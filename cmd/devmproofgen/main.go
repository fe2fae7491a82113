// Command devmproofgen reads a contract's hex bytecode, runs the core
// abstract-interpretation, block-decomposition, liveness and
// CFG/ownership pipeline, and writes one proof-skeleton source file per
// (code section, group) plus one header file per code section.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/berith-chain/devmproofgen/internal/config"
	"github.com/berith-chain/devmproofgen/log"
)

func main() {
	app := cli.NewApp()
	app.Name = "devmproofgen"
	app.Usage = "emit Dafny-EVM proof skeletons from EVM contract bytecode"
	app.ArgsUsage = "<target>"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "overflows", Usage: "emit overflow-check asserts for ADD/MUL/SUB"},
		cli.IntFlag{Name: "blocksize", Value: config.DefaultBlockSize, Usage: "maximum instructions per super-block"},
		cli.StringFlag{Name: "o, outdir", Value: ".", Usage: "directory to write generated files into"},
		cli.StringFlag{Name: "devmdir", Value: config.DefaultDevMDir, Usage: "path to the Dafny-EVM library, embedded in include lines"},
		cli.StringFlag{Name: "split", Usage: "JSON file registering named function entry points"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		cli.BoolFlag{Name: "minimise", Usage: "prune entry states to only the stack slots liveness analysis finds necessary"},
		cli.BoolFlag{Name: "minimise-all", Usage: "like --minimise, but also minimises the util group"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Error("devmproofgen / fatal", "err", err)
		fmt.Fprintln(os.Stderr, "devmproofgen:", err)
		os.Exit(1)
	}
}

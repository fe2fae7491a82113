package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/cfg"
	"github.com/berith-chain/devmproofgen/core/emit"
	"github.com/berith-chain/devmproofgen/core/group"
	"github.com/berith-chain/devmproofgen/core/havoc"
	"github.com/berith-chain/devmproofgen/core/liveness"
	"github.com/berith-chain/devmproofgen/core/vm"
	"github.com/berith-chain/devmproofgen/internal/config"
	"github.com/berith-chain/devmproofgen/log"
)

// constructionLimitPerInstruction guards core/cfg's basic-block graph discovery against
// pathological input; scaled off the instruction count so ordinary
// contracts never approach it.
const constructionLimitPerInstruction = 64

// codeSectionID is fixed at 0: devmproofgen's input is always a single
// flat bytecode blob, not an EOF-style multi-section container, and split
// file entries register against section 0.
const codeSectionID = 0

func run(ctx *cli.Context) error {
	opts := optionsFromContext(ctx)
	if opts.Target == "" {
		return cli.NewExitError("devmproofgen: missing required <target> argument", 1)
	}
	if opts.Debug {
		log.SetLevel(log.LevelDebug)
	}

	code, err := readBytecode(opts.Target)
	if err != nil {
		return err
	}

	roots, err := config.LoadSplit(opts.SplitFile)
	if err != nil {
		return err
	}

	hook := block.NoPrecondition
	if opts.Overflows {
		hook = block.OverflowChecks
	}

	insns := havoc.Insert(bytecode.Disassemble(code))
	analysis := vm.Analyze(insns)
	limit := len(insns) * constructionLimitPerInstruction
	graph, err := cfg.Build(codeSectionID, analysis, opts.BlockSize, hook, limit)
	if err != nil {
		return fmt.Errorf("devmproofgen: %w", err)
	}
	if graph.Partial() {
		log.Warn("devmproofgen / control-flow graph construction was incomplete, ownership may be conservative")
	}

	rootPCs := make([]int, 0, len(roots))
	for pc := range roots {
		rootPCs = append(rootPCs, pc)
	}
	sort.Ints(rootPCs)
	for _, pc := range rootPCs {
		graph.AddRoot(pc)
	}

	groups := group.Split(graph, roots)

	if opts.Minimise || opts.MinimiseAll {
		if err := liveness.Analyse(graph.Blocks()); err != nil {
			return fmt.Errorf("devmproofgen: %w", err)
		}
		for _, g := range groups {
			if g.Root == nil && !opts.MinimiseAll {
				// --minimise leaves the synthetic util remainder's entry
				// states intact; only --minimise-all prunes it too.
				continue
			}
			liveness.Prune(g.Blocks)
		}
	}

	log.Info("devmproofgen / pipeline complete",
		"instructions", len(insns), "blocks", len(graph.Blocks()), "groups", len(groups))

	return writeOutputs(opts, code, groups)
}

func optionsFromContext(ctx *cli.Context) config.Options {
	return config.Options{
		Target:      ctx.Args().First(),
		Overflows:   ctx.Bool("overflows"),
		BlockSize:   ctx.Int("blocksize"),
		OutDir:      ctx.String("outdir"),
		DevMDir:     ctx.String("devmdir"),
		SplitFile:   ctx.String("split"),
		Debug:       ctx.Bool("debug"),
		Minimise:    ctx.Bool("minimise"),
		MinimiseAll: ctx.Bool("minimise-all"),
	}
}

// readBytecode loads target and decodes it: UTF-8 hex text, optional 0x
// prefix, surrounding whitespace trimmed.
func readBytecode(target string) ([]byte, error) {
	raw, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("devmproofgen: cannot read target %s: %w", target, err)
	}
	code, err := bytecode.ParseHex(string(raw))
	if err != nil {
		return nil, fmt.Errorf("devmproofgen: %s: %w", target, err)
	}
	return code, nil
}

// filePrefix derives the output filename stem from the target path: the
// filename's stem, with every '.' replaced by '_'.
func filePrefix(target string) string {
	stem := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	return strings.ReplaceAll(stem, ".", "_")
}

func writeOutputs(opts config.Options, code []byte, groups []*group.BlockGroup) error {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("devmproofgen: cannot create outdir %s: %w", opts.OutDir, err)
	}

	prefix := filePrefix(opts.Target)
	emitOpts := emit.Options{DevmDir: opts.DevMDir}

	headerName := fmt.Sprintf("%s_%d_header", prefix, codeSectionID)
	headerPath := filepath.Join(opts.OutDir, headerName+"."+emit.Ext)
	if err := os.WriteFile(headerPath, []byte(emit.Header(codeSectionID, code, emitOpts)), 0o644); err != nil {
		return fmt.Errorf("devmproofgen: cannot write %s: %w", headerPath, err)
	}
	log.Info("devmproofgen / wrote header", "path", headerPath)

	byID := make(map[int]*group.BlockGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	for _, g := range groups {
		deps := make([]*group.BlockGroup, 0, len(g.Deps))
		for _, id := range g.Deps {
			deps = append(deps, byID[id])
		}
		path := filepath.Join(opts.OutDir, fmt.Sprintf("%s_%d_%s.%s", prefix, codeSectionID, g.Name, emit.Ext))
		if err := os.WriteFile(path, []byte(emit.Group(g, codeSectionID, headerName, deps, emitOpts)), 0o644); err != nil {
			return fmt.Errorf("devmproofgen: cannot write %s: %w", path, err)
		}
		log.Info("devmproofgen / wrote group", "path", path, "blocks", len(g.Blocks))
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/bootstrap"
	"github.com/distr1/whey/internal/ledger"
	"golang.org/x/xerrors"
)

const bootstrapHelp = `whey [-flags] bootstrap [-flags] [-r requirements.txt]... [requirement...]

Build wheels for the given requirements and, recursively, for everything they
need to build and run. Packages listed as pre-built for the variant are
installed from the remote index instead.

Built wheels end up in <wheels-repo>/<variant>/downloads. One path is printed
per wheel.

Example:
  % whey -variant=cpu bootstrap 'stevedore>=5.0' -r requirements.txt
`

// stringsFlag collects repeated flags.
type stringsFlag []string

func (s *stringsFlag) String() string { return strings.Join(*s, ",") }

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func readRequirements(toplevel []string, files []string) ([]whey.Requirement, error) {
	lines := append([]string(nil), toplevel...)
	for _, fn := range files {
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		more, err := whey.ReadRequirementsFile(f)
		f.Close()
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", fn, err)
		}
		lines = append(lines, more...)
	}
	reqs := make([]whey.Requirement, 0, len(lines))
	for _, line := range lines {
		req, err := whey.ParseRequirement(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func runBootstrap(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	var files stringsFlag
	fset.Var(&files, "r", "pip requirements file (may be repeated)")
	noLedger := fset.Bool("no-ledger", false, "rebuild WorkItems even if a previous run built them")
	fset.Usage = usage(fset, bootstrapHelp)
	fset.Parse(args)

	reqs, err := readRequirements(fset.Args(), files)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return xerrors.New("pass a requirement specification or use -r to pass a requirements file")
	}

	ws, err := newWorkspace(ctx)
	if err != nil {
		return err
	}
	if pre := ws.settings.PreBuilt(ws.dirs.Variant); len(pre) > 0 {
		logger.Infof("treating %s as pre-built wheels", strings.Join(pre, ", "))
	}

	b := &bootstrap.Bootstrapper{
		Variant:   ws.dirs.Variant,
		WorkDir:   ws.dirs.WorkDir,
		OutputDir: ws.dirs.WheelsDownloads(),
		Stages:    ws.pipeline(),
		PreBuilt:  ws.settings,
		Cleanup:   *cleanup,
		Log:       logger,
	}
	if ws.server != nil {
		b.Server = ws.server
	}
	if !*noLedger {
		l, err := ledger.Open(ws.dirs.Ledger())
		if err != nil {
			return err
		}
		defer l.Close()
		b.Ledger = l
	}

	res, err := b.Run(ctx, reqs)
	if err != nil {
		return err
	}
	printSteps(os.Stderr, res.Order)
	for _, a := range res.Built {
		fmt.Println(a.Path)
	}
	return nil
}

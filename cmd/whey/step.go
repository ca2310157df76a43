package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/dependencies"
	"golang.org/x/xerrors"
)

const downloadHelp = `whey [-flags] download-source-archive NAME VERSION [INDEX_URL]

Download the source archive of NAME==VERSION into <sdists-repo>/downloads and
print its path. INDEX_URL defaults to -index-url.
`

const prepareSourceHelp = `whey [-flags] prepare-source NAME VERSION

Unpack the downloaded source archive of NAME==VERSION into the work directory,
apply the package's patches and print the source root.
`

const prepareBuildHelp = `whey [-flags] prepare-build NAME VERSION

Create the build environment of the prepared source tree of NAME==VERSION and
install its build-system and build-backend requirements, which must already be
available from the wheel server. Prints the environment directory.
`

const buildWheelHelp = `whey [-flags] build-wheel NAME VERSION

Build the wheel of the prepared source tree of NAME==VERSION in its prepared
build environment and print the path of the wheel.
`

func stepFlags(name, help string, args []string) *flag.FlagSet {
	fset := flag.NewFlagSet(name, flag.ExitOnError)
	fset.Usage = usage(fset, help)
	fset.Parse(args)
	return fset
}

func downloadSourceArchive(ctx context.Context, args []string) error {
	fset := stepFlags("download-source-archive", downloadHelp, args)
	if fset.NArg() < 2 || fset.NArg() > 3 {
		return xerrors.Errorf("syntax: download-source-archive NAME VERSION [INDEX_URL]")
	}
	ws, err := newWorkspace(ctx)
	if err != nil {
		return err
	}
	item, err := ws.item(fset.Args())
	if err != nil {
		return err
	}
	urls := indexURLs()
	if fset.NArg() == 3 {
		urls = []string{fset.Arg(2)}
	}
	req := whey.Requirement{Name: item.Name}.Pin(item.Version)
	src, err := ws.acquirer.Download(ctx, req, urls)
	if err != nil {
		return err
	}
	logger.WithField("pkg", item.Name).Infof("downloaded %s from %s", src.Archive, src.URL)
	fmt.Println(src.Archive)
	return nil
}

func prepareSource(ctx context.Context, args []string) error {
	fset := stepFlags("prepare-source", prepareSourceHelp, args)
	ws, err := newWorkspace(ctx)
	if err != nil {
		return err
	}
	item, err := ws.item(fset.Args())
	if err != nil {
		return err
	}
	archive, err := ws.acquirer.FindSdist(item)
	if err != nil {
		return err
	}
	root, err := ws.sources.Prepare(ctx, item, archive)
	if err != nil {
		return err
	}
	fmt.Println(root)
	return nil
}

func prepareBuild(ctx context.Context, args []string) error {
	fset := stepFlags("prepare-build", prepareBuildHelp, args)
	ws, err := newWorkspace(ctx)
	if err != nil {
		return err
	}
	item, err := ws.item(fset.Args())
	if err != nil {
		return err
	}
	root, err := ws.sources.FindSourceDir(item)
	if err != nil {
		return err
	}
	if err := ws.startServer(ctx); err != nil {
		return err
	}
	parent := whey.Requirement{Name: item.Name}.Pin(item.Version)
	reqs, err := ws.discoverer.BuildSystemRequirements(item, parent, root)
	if err != nil {
		return err
	}
	e, err := ws.buildEnvs.Prepare(ctx, item, reqs)
	if err != nil {
		return err
	}
	bs, err := dependencies.ReadBuildSystem(root)
	if err != nil {
		return err
	}
	backend, err := ws.discoverer.BuildBackendRequirements(ctx, item, parent, e.Hooks(root, bs))
	if err != nil {
		return err
	}
	if err := e.Install(ctx, backend); err != nil {
		return err
	}
	fmt.Println(e.Dir)
	return nil
}

func buildWheel(ctx context.Context, args []string) error {
	fset := stepFlags("build-wheel", buildWheelHelp, args)
	ws, err := newWorkspace(ctx)
	if err != nil {
		return err
	}
	item, err := ws.item(fset.Args())
	if err != nil {
		return err
	}
	root, err := ws.sources.FindSourceDir(item)
	if err != nil {
		return err
	}
	e, err := ws.buildEnvs.Open(item)
	if err != nil {
		return err
	}
	path, err := ws.builder.Build(ctx, item, root, e)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

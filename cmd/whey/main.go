// Program whey builds wheels for Python packages and everything they need to
// build and run, from source.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/trace"
)

type cmd struct {
	helpText string
	short    string
	fn       func(ctx context.Context, args []string) error
}

var verbs = map[string]cmd{
	"bootstrap":               {bootstrapHelp, "build requirements and their dependencies recursively", runBootstrap},
	"download-source-archive": {downloadHelp, "download the source archive of one package", downloadSourceArchive},
	"prepare-source":          {prepareSourceHelp, "unpack and patch a downloaded source archive", prepareSource},
	"prepare-build":           {prepareBuildHelp, "create the build environment of a prepared source tree", prepareBuild},
	"build-wheel":             {buildWheelHelp, "build the wheel of a prepared source tree", buildWheel},
	"serve":                   {serveHelp, "serve the wheels repository as a package index", serve},
	"upload":                  {uploadHelp, "upload built wheels to an S3 bucket", runUpload},
	"ledger":                  {ledgerHelp, "list the wheels recorded by previous bootstrap runs", listLedger},
}

func printVerbs() {
	names := make([]string, 0, len(verbs))
	for name := range verbs {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(os.Stderr, "Verbs:\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "\t%s - %s\n", name, verbs[name].short)
	}
}

func main() {
	if err := applyEnv(flag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: whey [flags] <verb> [options]\n\n")
		printVerbs()
		fmt.Fprintf(os.Stderr, "\nGlobal flags (also settable as WHEY_<FLAG>, e.g. WHEY_WORK_DIR):\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	verb, args := args[0], args[1:]
	if verb == "help" {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "syntax: whey help <verb>\n\n")
			printVerbs()
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: whey [flags] <verb> [options]\n")
		os.Exit(2)
	}

	log, err := newLogger(*verbose, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
		os.Exit(1)
	}
	logger = log

	if *tracefile != "" {
		if err := trace.Create(*tracefile); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
			os.Exit(1)
		}
		whey.RegisterAtExit(trace.Close)
	}

	ctx, canc := whey.InterruptibleContext()
	err = v.fn(ctx, args)
	canc()
	if exitErr := whey.RunAtExit(); exitErr != nil {
		log.Warnf("cleanup: %v", exitErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
		os.Exit(1)
	}
}

// envName returns the environment variable which overrides flag name.
func envName(name string) string {
	return "WHEY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// applyEnv sets the flags of fset from WHEY_<NAME> environment variables.
// Command line flags take precedence, as they are parsed afterwards.
func applyEnv(fset *flag.FlagSet) error {
	var err error
	fset.VisitAll(func(f *flag.Flag) {
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok || err != nil {
			return
		}
		if serr := f.Value.Set(v); serr != nil {
			err = fmt.Errorf("%s: invalid value %q: %v", envName(f.Name), v, serr)
		}
	})
	return err
}

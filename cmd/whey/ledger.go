package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/distr1/whey/internal/ledger"
)

const ledgerHelp = `whey [-flags] ledger [-flags]

List the wheels recorded for the variant by previous bootstrap runs, which a
re-run reuses as long as they are unmodified.

Example:
  % whey -variant=gpu ledger -verify
`

func listLedger(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("ledger", flag.ExitOnError)
	verify := fset.Bool("verify", false, "check the digest of every recorded wheel")
	fset.Usage = usage(fset, ledgerHelp)
	fset.Parse(args)

	d, err := dirs()
	if err != nil {
		return err
	}
	l, err := ledger.Open(d.Ledger())
	if err != nil {
		return err
	}
	defer l.Close()
	entries, err := l.Entries(ctx, d.Variant)
	if err != nil {
		return err
	}
	return writeLedger(os.Stdout, entries, *verify)
}

// writeLedger prints one line per entry. With verify, the last column tells
// whether the wheel is still present and unmodified.
func writeLedger(out io.Writer, entries []ledger.Entry, verify bool) error {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, e := range entries {
		status := ""
		if verify {
			status = "ok"
			if digest, _, err := ledger.Digest(e.Path); err != nil {
				status = "missing"
			} else if digest != e.Digest {
				status = "modified"
			}
		}
		fmt.Fprintf(w, "%s==%s\t%s\t%.16s\t%s\t%s\n",
			e.Item.Name, e.Item.Version, e.RecordedAt.Format("2006-01-02 15:04"), e.Digest, e.Path, status)
	}
	return w.Flush()
}

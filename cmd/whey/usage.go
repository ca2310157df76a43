package main

import (
	"flag"
	"fmt"
	"os"
)

// usage prints helpText followed by the verb's flags.
func usage(fset *flag.FlagSet, helpText string) func() {
	return func() {
		fmt.Fprint(os.Stderr, helpText)
		fmt.Fprintf(os.Stderr, "\nFlags of whey %s:\n", fset.Name())
		fset.PrintDefaults()
	}
}

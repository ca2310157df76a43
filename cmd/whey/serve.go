package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/distr1/whey/internal/addrfd"
	"github.com/distr1/whey/internal/server"
)

const serveHelp = `whey [-flags] serve [-flags]

Serve the built and pre-built wheels of the variant as a package index
(PEP 503 and PEP 691), e.g. for installing them with pip.

Example:
  ws % whey -variant=cpu serve -listen=:7080
  laptop % pip install --index-url http://ws:7080/simple/ stevedore
`

func serve(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fset.String("listen", ":7080", "[host]:port listen address")
	fset.Usage = usage(fset, serveHelp)
	fset.Parse(args)

	d, err := dirs()
	if err != nil {
		return err
	}
	srv := &server.Server{Dirs: d.Served(), Addr: *listen, Log: logger}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "serving %s at %s\n", d.WheelsDownloads(), srv.URL())
	if err := addrfd.Write(*addrFD, srv.ListenAddr()); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

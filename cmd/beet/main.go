// Command beet inspects and initializes beet database directories.
//
//	beet create -dir ./data
//	beet info   -dir ./data
//	beet walk   -dir ./data
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/beetdb/beet"
	"github.com/beetdb/beet/internal/page"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	config := fs.String("config", "", "YAML options file (overrides -dir)")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(os.Args[2:])

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	opts := beet.DefaultOptions(*dir)
	if *config != "" {
		var err error
		if opts, err = beet.LoadOptions(*config); err != nil {
			fatal(err)
		}
	}

	switch os.Args[1] {
	case "create":
		db, err := beet.Create(opts)
		if err != nil {
			fatal(err)
		}
		defer db.Close()
		fmt.Printf("created %s\n", opts.Dir)
	case "info":
		opts.ReadOnly = true
		db, err := beet.Open(opts)
		if err != nil {
			fatal(err)
		}
		defer db.Close()
		d := db.Descriptor()
		fmt.Printf("version   %d.%d\n", d.Major, d.Minor)
		fmt.Printf("leafsize  %d\n", d.LeafSize)
		fmt.Printf("intlsize  %d\n", d.IntlSize)
		fmt.Printf("root      %d\n", d.RootAddr)
		if d.FreeAddr.IsValid() {
			fmt.Printf("freelist  %d\n", d.FreeAddr)
		} else {
			fmt.Printf("freelist  none\n")
		}
	case "walk":
		opts.ReadOnly = true
		db, err := beet.Open(opts)
		if err != nil {
			fatal(err)
		}
		defer db.Close()
		err = db.WalkLeaves(db.Descriptor().RootAddr, true,
			func(addr page.Addr, pg *page.Page, v *page.View) (bool, error) {
				fmt.Printf("page %d: %s level=%d entries=%d records=%d free=%d\n",
					addr, pg.Hdr.Type, pg.Hdr.Level, pg.Hdr.Entries, v.Records, v.SpaceAvail)
				return true, nil
			})
		if err != nil {
			fatal(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: beet {create|info|walk} [-dir path] [-config file.yaml] [-v]")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "beet:", err)
	os.Exit(1)
}

package main

// flags.go parses stripecache-inspect's command-line flags into the
// options struct main.go drives. Kept separate from main.go in the
// teacher's own style of splitting flag parsing from the dump/watch
// loop.
//
// © 2025 stripecache authors. MIT License.

import (
	"flag"
	"time"
)

type options struct {
	target  string
	json    bool
	watch   bool
	interval time.Duration

	heapProfile      string
	goroutineProfile string

	version bool
}

func parseFlags() *options {
	opts := &options{}

	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the process exposing /debug/stripecache/snapshot")
	flag.BoolVar(&opts.json, "json", false, "emit raw JSON instead of a pretty summary")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval in watch mode")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
	flag.BoolVar(&opts.version, "version", false, "print the build version and exit")

	flag.Parse()
	return opts
}

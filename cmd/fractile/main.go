// Command fractile renders and explores Mandelbrot-family fractals on a
// tiled worker pool.
//
// Usage:
//
//	fractile render  -o out.png [-config f.yaml] [-width W -height H] [-workers N] [-rows R -cols C] [-wasm k.wasm] [-hud]
//	fractile explore [-config f.yaml] [-out dir]   (commands on stdin)
//	fractile worker  [-wasm k.wasm]                (worker protocol on stdin/stdout)
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "render":
		err = runRender(ctx, args)
	case "explore":
		err = runExplore(ctx, args, os.Stdin)
	case "worker":
		err = runWorker(ctx, args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("fractile: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fractile <command> [flags]

commands:
  render    render one frame to a PNG file
  explore   read navigation commands from stdin and render as they arrive
  worker    serve tile jobs on stdin/stdout (spawned by -process workers)`)
}

// newLogger logs to stderr at info, or debug when verbose.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

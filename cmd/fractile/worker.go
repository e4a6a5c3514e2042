package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gogpu/fractile"
	"github.com/gogpu/fractile/internal/wasmkernel"
	"github.com/gogpu/fractile/internal/worker"
)

// runWorker serves the worker protocol for a parent started with
// -process. Logs go to stderr, where the parent picks them up.
func runWorker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	var (
		wasmPath = fs.String("wasm", "", "WebAssembly kernel module")
		verbose  = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fractile.SetLogger(newLogger(*verbose))

	var initFn worker.InitFunc = worker.Native
	if *wasmPath != "" {
		wasm, err := os.ReadFile(*wasmPath)
		if err != nil {
			return fmt.Errorf("read wasm kernel: %w", err)
		}
		module, err := wasmkernel.Compile(ctx, wasm)
		if err != nil {
			return err
		}
		defer module.Close(context.Background())
		initFn = module.Init
	}

	return worker.Serve(ctx, os.Stdin, os.Stdout, initFn)
}

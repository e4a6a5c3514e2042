package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/gogpu/fractile"
)

// explorerFlags are the flags shared by render and explore.
type explorerFlags struct {
	config  string
	width   float64
	height  float64
	dpr     float64
	workers int
	rows    int
	cols    int
	wasm    string
	process string
	timeout time.Duration
	verbose bool
}

func (f *explorerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "YAML configuration file")
	fs.Float64Var(&f.width, "width", 0, "client area width (canvas uses 80%)")
	fs.Float64Var(&f.height, "height", 0, "client area height (canvas uses 80%)")
	fs.Float64Var(&f.dpr, "dpr", 0, "device pixel ratio")
	fs.IntVar(&f.workers, "workers", 0, "number of workers (0 = GOMAXPROCS)")
	fs.IntVar(&f.rows, "rows", 0, "tile rows")
	fs.IntVar(&f.cols, "cols", 0, "tile columns")
	fs.StringVar(&f.wasm, "wasm", "", "WebAssembly kernel module")
	fs.StringVar(&f.process, "process", "", "run workers as child processes of this executable")
	fs.DurationVar(&f.timeout, "batch-timeout", 0, "discard batches slower than this (0 = wait forever)")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
}

// options merges the config file with flags; flags win.
func (f *explorerFlags) options(fs *flag.FlagSet) ([]fractile.Option, error) {
	var opts []fractile.Option
	if f.config != "" {
		cfg, err := fractile.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		if opts, err = cfg.Options(); err != nil {
			return nil, err
		}
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["width"] || set["height"] || set["dpr"] {
		w, h, dpr := f.width, f.height, f.dpr
		if w == 0 {
			w = fractile.DefaultDisplayWidth
		}
		if h == 0 {
			h = fractile.DefaultDisplayHeight
		}
		opts = append(opts, fractile.WithDisplay(w, h, dpr))
	}
	if set["workers"] {
		opts = append(opts, fractile.WithWorkers(f.workers))
	}
	if set["rows"] || set["cols"] {
		opts = append(opts, fractile.WithGrid(f.rows, f.cols))
	}
	if set["batch-timeout"] {
		opts = append(opts, fractile.WithBatchTimeout(f.timeout))
	}
	if f.wasm != "" {
		wasm, err := os.ReadFile(f.wasm)
		if err != nil {
			return nil, fmt.Errorf("read wasm kernel: %w", err)
		}
		opts = append(opts, fractile.WithWasmKernel(wasm))
	}
	if f.process != "" {
		args := []string{"worker"}
		if f.wasm != "" {
			args = append(args, "-wasm", f.wasm)
		}
		opts = append(opts, fractile.WithProcessWorkers(f.process, args...))
	}
	return opts, nil
}

// writePNG encodes img to path, creating parent directories.
func writePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"github.com/gogpu/fractile"
)

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var (
		ef     explorerFlags
		output = fs.String("o", "fractal.png", "output file")
		hud    = fs.Bool("hud", false, "draw exponent and iteration labels")
		iter   = fs.Int("iter", 0, "max iterations (0 = view default)")
		power  = fs.Int("power", 0, "exponent (0 = view default)")
		gray   = fs.Bool("gray", false, "grayscale")
	)
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fractile.SetLogger(newLogger(ef.verbose))
	opts, err := ef.options(fs)
	if err != nil {
		return err
	}

	ex, err := fractile.NewExplorer(ctx, opts...)
	if err != nil {
		return err
	}
	defer ex.Close()

	if *power > 0 {
		ex.IncrementPower(*power - ex.View().Power)
	}
	if *iter > 0 {
		ex.SetMaxIterations(*iter)
	}
	if *gray != ex.View().Grayscale {
		ex.ToggleGrayscale()
	}

	// The mutators above may have started batches for intermediate views;
	// the coalesced follow-up renders the final one.
	ex.Render()
	if err := ex.Flush(ctx); err != nil {
		return err
	}

	st := ex.Stats()
	if st.Composited == 0 {
		return errors.New("no frame was composited")
	}

	img := ex.Frame()
	if *hud {
		fractile.DrawHUD(img, ex.View())
	}
	if err := writePNG(*output, img); err != nil {
		return err
	}

	w, h := ex.Size()
	log.Printf("fractal saved to %s (%dx%d, %d batches)", *output, w, h, st.Batches)
	return nil
}

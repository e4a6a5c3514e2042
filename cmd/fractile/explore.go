package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gogpu/fractile"
)

// inputInterval paces navigation commands like a held key.
const inputInterval = 16 * time.Millisecond

func runExplore(ctx context.Context, args []string, in io.Reader) error {
	fs := flag.NewFlagSet("explore", flag.ContinueOnError)
	var (
		ef  explorerFlags
		out = fs.String("out", "", "directory for one PNG per composited frame")
		hud = fs.Bool("hud", false, "draw exponent and iteration labels")
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

	var ex *fractile.Explorer
	var ready atomic.Bool
	if *out != "" {
		opts = append(opts, fractile.WithFrameHandler(func(fi fractile.FrameInfo) {
			if !ready.Load() {
				return
			}
			img := ex.Frame()
			if *hud {
				fractile.DrawHUD(img, ex.View())
			}
			path := filepath.Join(*out, fmt.Sprintf("frame-%06d.png", fi.BatchID))
			if err := writePNG(path, img); err != nil {
				log.Printf("write %s: %v", path, err)
				return
			}
			log.Printf("frame %d epoch %d: %d tiles in %s complete=%t -> %s", fi.BatchID, fi.Epoch, fi.Tiles, fi.Duration.Round(time.Millisecond), fi.Complete, path)
		}))
	}

	ex, err = fractile.NewExplorer(ctx, opts...)
	if err != nil {
		return err
	}
	defer ex.Close()
	ready.Store(true)

	ex.Render()

	s := &session{ex: ex, out: *out, limiter: rate.NewLimiter(rate.Every(inputInterval), 1)}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		quit, err := s.exec(ctx, strings.Fields(line))
		if err != nil {
			log.Printf("%s: %v", line, err)
		}
		if quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := ex.Flush(ctx); err != nil {
		return err
	}
	st := ex.Stats()
	log.Printf("batches %d: composited %d, stale %d, failed %d, coalesced renders %d",
		st.Batches, st.Composited, st.Stale, st.Failed, st.Coalesced)
	return nil
}

// session applies one explore command at a time.
type session struct {
	ex      *fractile.Explorer
	out     string
	limiter *rate.Limiter
	snaps   int
}

func (s *session) exec(ctx context.Context, f []string) (quit bool, err error) {
	ex := s.ex
	switch f[0] {
	case "left":
		ex.PanLeft()
	case "right":
		ex.PanRight()
	case "up":
		ex.PanUp()
	case "down":
		ex.PanDown()
	case "in":
		ex.ZoomIn()
	case "in-big":
		ex.ZoomInBig()
	case "out":
		ex.ZoomOut()
	case "power+":
		ex.IncrementPower(1)
	case "power-":
		ex.IncrementPower(-1)
	case "gray":
		ex.ToggleGrayscale()
	case "iter":
		n, err := intArg(f, 1)
		if err != nil {
			return false, err
		}
		ex.SetMaxIterations(n)
	case "iter+":
		ex.DoubleIterations()
	case "iter-":
		ex.HalveIterations()
	case "center", "zoom-at":
		x, err := intArg(f, 1)
		if err != nil {
			return false, err
		}
		y, err := intArg(f, 2)
		if err != nil {
			return false, err
		}
		if f[0] == "center" {
			ex.CenterOn(x, y)
		} else {
			ex.ZoomInAt(x, y)
		}
	case "drag":
		dx, err := floatArg(f, 1)
		if err != nil {
			return false, err
		}
		dy, err := floatArg(f, 2)
		if err != nil {
			return false, err
		}
		ex.PanBy(dx, dy)
	case "resize":
		w, err := floatArg(f, 1)
		if err != nil {
			return false, err
		}
		h, err := floatArg(f, 2)
		if err != nil {
			return false, err
		}
		dpr := 0.0
		if len(f) > 3 {
			if dpr, err = floatArg(f, 3); err != nil {
				return false, err
			}
		}
		ex.Resize(w, h, dpr)
	case "reset":
		ex.RequestReset()
	case "snap":
		if s.out == "" {
			return false, fmt.Errorf("snap needs -out")
		}
		s.snaps++
		path := filepath.Join(s.out, fmt.Sprintf("snap-%03d.png", s.snaps))
		if img := ex.Frame(); img != nil {
			return false, writePNG(path, img)
		}
	case "flush":
		return false, ex.Flush(ctx)
	case "stats":
		st := ex.Stats()
		log.Printf("%+v unpainted=%d workers=%d", st, ex.Unpainted(), ex.Workers())
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command")
	}
	return false, nil
}

func intArg(f []string, i int) (int, error) {
	if len(f) <= i {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	return strconv.Atoi(f[i])
}

func floatArg(f []string, i int) (float64, error) {
	if len(f) <= i {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	return strconv.ParseFloat(f[i], 64)
}

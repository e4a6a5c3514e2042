package fractile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Kernel types accepted in a config file.
const (
	KernelNative  = "native"
	KernelWasm    = "wasm"
	KernelProcess = "process"
)

// Config is the YAML form of the Explorer options.
// Zero values keep the option defaults.
type Config struct {
	Workers        int           `yaml:"workers"`          // 0 means GOMAXPROCS
	Grid           GridConfig    `yaml:"grid"`             // tile layout
	QuietPeriodMS  int           `yaml:"quiet_period_ms"`  // reset debounce window
	BatchTimeoutMS int           `yaml:"batch_timeout_ms"` // 0 waits forever
	Display        DisplayConfig `yaml:"display"`
	View           *ViewConfig   `yaml:"view,omitempty"`
	Kernel         KernelConfig  `yaml:"kernel"`
}

// GridConfig is the tile layout.
type GridConfig struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// DisplayConfig is the initial client area.
type DisplayConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	DPR    float64 `yaml:"dpr"`
}

// ViewConfig overrides the view a reset returns to.
type ViewConfig struct {
	CenterX       *float64 `yaml:"center_x"`
	CenterY       *float64 `yaml:"center_y"`
	Scale         float64  `yaml:"scale"`
	Power         int      `yaml:"power"`
	MaxIterations int      `yaml:"max_iterations"`
	Grayscale     bool     `yaml:"grayscale"`
}

// KernelConfig selects how tiles are computed.
type KernelConfig struct {
	Type      string   `yaml:"type"`      // native, wasm, process
	WasmPath  string   `yaml:"wasm_path"` // module for type wasm
	TimeoutMS int      `yaml:"timeout_ms"`
	Command   string   `yaml:"command"` // executable for type process
	Args      []string `yaml:"args"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot be applied.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	case c.Grid.Rows < 0 || c.Grid.Cols < 0:
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidConfig, c.Grid.Rows, c.Grid.Cols)
	case c.QuietPeriodMS < 0:
		return fmt.Errorf("%w: quiet_period_ms must be >= 0", ErrInvalidConfig)
	case c.BatchTimeoutMS < 0:
		return fmt.Errorf("%w: batch_timeout_ms must be >= 0", ErrInvalidConfig)
	case c.Display.Width < 0 || c.Display.Height < 0 || c.Display.DPR < 0:
		return fmt.Errorf("%w: display %gx%g@%g", ErrInvalidConfig, c.Display.Width, c.Display.Height, c.Display.DPR)
	}

	if v := c.View; v != nil {
		switch {
		case v.Scale < 0:
			return fmt.Errorf("%w: view.scale must be > 0", ErrInvalidConfig)
		case v.Power != 0 && v.Power < 2:
			return fmt.Errorf("%w: view.power must be >= 2, got %d", ErrInvalidConfig, v.Power)
		case v.MaxIterations < 0 || v.MaxIterations > MaxIterationsLimit:
			return fmt.Errorf("%w: view.max_iterations must be at most %d, got %d", ErrInvalidConfig, MaxIterationsLimit, v.MaxIterations)
		}
	}

	switch c.Kernel.Type {
	case "", KernelNative:
	case KernelWasm:
		if c.Kernel.WasmPath == "" {
			return fmt.Errorf("%w: kernel.wasm_path is required for type wasm", ErrInvalidConfig)
		}
	case KernelProcess:
		if c.Kernel.Command == "" {
			return fmt.Errorf("%w: kernel.command is required for type process", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown kernel.type %q", ErrInvalidConfig, c.Kernel.Type)
	}
	if c.Kernel.TimeoutMS < 0 {
		return fmt.Errorf("%w: kernel.timeout_ms must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Options converts the configuration to Explorer options. For a wasm
// kernel the module file is read here.
func (c *Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithWorkers(c.Workers),
		WithGrid(c.Grid.Rows, c.Grid.Cols),
	}
	if c.QuietPeriodMS > 0 {
		opts = append(opts, WithQuietPeriod(time.Duration(c.QuietPeriodMS)*time.Millisecond))
	}
	if c.BatchTimeoutMS > 0 {
		opts = append(opts, WithBatchTimeout(time.Duration(c.BatchTimeoutMS)*time.Millisecond))
	}
	if c.Display.Width > 0 && c.Display.Height > 0 {
		opts = append(opts, WithDisplay(c.Display.Width, c.Display.Height, c.Display.DPR))
	}
	if c.View != nil {
		opts = append(opts, WithView(c.View.view()))
	}

	switch c.Kernel.Type {
	case KernelWasm:
		wasm, err := os.ReadFile(c.Kernel.WasmPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read wasm kernel: %w", err)
		}
		opts = append(opts, WithWasmKernel(wasm))
		if c.Kernel.TimeoutMS > 0 {
			opts = append(opts, WithWasmTimeout(time.Duration(c.Kernel.TimeoutMS)*time.Millisecond))
		}
	case KernelProcess:
		opts = append(opts, WithProcessWorkers(c.Kernel.Command, c.Kernel.Args...))
	}
	return opts, nil
}

// view overlays the configured fields on DefaultView.
func (v *ViewConfig) view() View {
	out := DefaultView()
	if v.Power != 0 {
		out.setPower(v.Power)
	}
	if v.CenterX != nil {
		out.CenterX = *v.CenterX
	}
	if v.CenterY != nil {
		out.CenterY = *v.CenterY
	}
	if v.Scale > 0 {
		out.Scale = v.Scale
	}
	if v.MaxIterations > 0 {
		out.MaxIterations = v.MaxIterations
	}
	out.Grayscale = v.Grayscale
	return out
}

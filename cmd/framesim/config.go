package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// config holds the simulation parameters. Values come from the defaults, then
// the TOML file, then flags given on the command line.
type config struct {
	Frames         int      `toml:"frames"`
	Workers        int      `toml:"workers"`
	Ring           int      `toml:"ring"`
	Draws          int      `toml:"draws"`
	Backend        string   `toml:"backend"`
	GPULatency     duration `toml:"gpu_latency"`
	FenceTimeout   duration `toml:"fence_timeout"`
	CacheCapacity  int      `toml:"cache_capacity"`
	Uploads        duration `toml:"upload_interval"`
	DebugLabels    bool     `toml:"debug_labels"`
	ResourcesFrame int      `toml:"resources_per_frame"`
}

func defaultConfig() config {
	return config{
		Frames:         120,
		Workers:        4,
		Ring:           3,
		Draws:          256,
		Backend:        "software",
		GPULatency:     duration(2 * time.Millisecond),
		FenceTimeout:   duration(10 * time.Second),
		Uploads:        duration(20 * time.Millisecond),
		ResourcesFrame: 8,
	}
}

// duration decodes TOML strings such as "5ms".
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d duration) String() string { return time.Duration(d).String() }

func (d *duration) Set(s string) error { return d.UnmarshalText([]byte(s)) }

// loadConfig decodes the TOML file at path over cfg. Unknown keys are errors.
func loadConfig(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// bindFlags registers flags writing into cfg.
func bindFlags(fs *flag.FlagSet, cfg *config) {
	fs.IntVar(&cfg.Frames, "frames", cfg.Frames, "frames to simulate")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "recording goroutines")
	fs.IntVar(&cfg.Ring, "ring", cfg.Ring, "frames in flight")
	fs.IntVar(&cfg.Draws, "draws", cfg.Draws, "draws per frame")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "backend: software or noop")
	fs.Var(&cfg.GPULatency, "gpu-latency", "simulated GPU latency per submission (software backend)")
	fs.Var(&cfg.FenceTimeout, "fence-timeout", "fence wait limit before the device is considered lost")
	fs.IntVar(&cfg.CacheCapacity, "cache", cfg.CacheCapacity, "render pass cache capacity (0 = default)")
	fs.Var(&cfg.Uploads, "upload-interval", "interval between immediate uploads (0 disables)")
	fs.BoolVar(&cfg.DebugLabels, "labels", cfg.DebugLabels, "label GPU objects")
	fs.IntVar(&cfg.ResourcesFrame, "churn", cfg.ResourcesFrame, "resources created and destroyed per frame")
}

// parseArgs applies the config file named by -config and then the flags the
// user set, so explicit flags win over the file.
func parseArgs(args []string) (config, options, error) {
	cfg := defaultConfig()
	var opts options

	fs := flag.NewFlagSet("framesim", flag.ContinueOnError)
	bindFlags(fs, &cfg)
	fs.StringVar(&opts.configPath, "config", "", "TOML config file")
	fs.StringVar(&opts.profile, "profile", "", "profile mode: cpu, mem or empty")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	if opts.configPath == "" {
		return cfg, opts, nil
	}

	fromFile := defaultConfig()
	if err := loadConfig(opts.configPath, &fromFile); err != nil {
		return cfg, opts, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Re-apply explicit flags on top of the file.
	overlay := flag.NewFlagSet("framesim", flag.ContinueOnError)
	bindFlags(overlay, &fromFile)
	for name := range set {
		if f := overlay.Lookup(name); f != nil {
			if err := f.Value.Set(fs.Lookup(name).Value.String()); err != nil {
				return cfg, opts, err
			}
		}
	}
	return fromFile, opts, nil
}

// options are process settings that never come from the config file.
type options struct {
	configPath string
	profile    string
	verbose    bool
}

// Command krun runs a program under thermal supervision: it suspends the
// program's process group when the monitored temperature rises above the hot
// threshold, and resumes it once the temperature has dropped below the cool
// threshold.  Ctrl-C is propagated to the program at a safe point, and krun
// exits with the program's own exit status.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/rusq/osenv/v2"

	"github.com/rusq/krun"
	"github.com/rusq/krun/hwmon"
	"github.com/rusq/krun/proc"
)

// defaultSensors covers cores 0-5 of a coretemp package.
const defaultSensors = "coretemp-isa-0000:temp2," +
	"coretemp-isa-0000:temp3," +
	"coretemp-isa-0000:temp4," +
	"coretemp-isa-0000:temp5," +
	"coretemp-isa-0000:temp6," +
	"coretemp-isa-0000:temp7"

type config struct {
	sensors   string
	hotDelay  time.Duration
	coolDelay time.Duration
	verbose   bool
}

var cliflags = config{
	sensors:   osenv.Value("KRUN_SENSORS", defaultSensors),
	hotDelay:  envDuration("KRUN_HOT_DELAY", krun.DefaultHotDelay),
	coolDelay: envDuration("KRUN_COOL_DELAY", krun.DefaultCoolDelay),
	verbose:   osenv.Value("DEBUG", false),
}

// envDuration is osenv.Value for durations; a malformed value falls back to
// the default.
func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(osenv.Value(key, def.String()))
	if err != nil {
		return def
	}
	return d
}

func init() {
	flag.StringVar(&cliflags.sensors, "sensors", cliflags.sensors, "comma separated `list` of chip:feature temperature inputs to monitor")
	flag.DurationVar(&cliflags.hotDelay, "hot-delay", cliflags.hotDelay, "poll `interval` while the child is suspended")
	flag.DurationVar(&cliflags.coolDelay, "cool-delay", cliflags.coolDelay, "poll `interval` while the child is running")
	flag.BoolVar(&cliflags.verbose, "v", cliflags.verbose, "verbose messages")
}

func init() {
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [flags] <hot_threshold> <cool_threshold> <prog> <args ...>\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if cliflags.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	if flag.NArg() < 3 {
		flag.Usage()
		os.Exit(2)
	}

	status, err := run(context.Background(), cliflags, flag.Args())
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	os.Exit(status)
}

// run wires the governor and drives it until the child exits, returning the
// child's exit status.
func run(ctx context.Context, cfg config, args []string) (int, error) {
	th, err := parseThresholds(args[0], args[1])
	if err != nil {
		return 0, err
	}
	specs, err := krun.ParseFeatureSpecs(cfg.sensors)
	if err != nil {
		return 0, err
	}
	agg, err := krun.NewAggregator(hwmon.New().Resolver(), specs)
	if err != nil {
		return 0, err
	}

	child, err := proc.Start(args[2], args[3:]...)
	if err != nil {
		return 0, err
	}
	slog.Debug("child started", "pid", child.Pid(), "command", args[2])

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	flags := krun.NewInterruptFlags()
	flags.Notify(ctx)

	g, err := krun.New(agg, child, th,
		krun.WithHotDelay(cfg.hotDelay),
		krun.WithCoolDelay(cfg.coolDelay),
		krun.WithInterrupts(flags),
	)
	if err != nil {
		return 0, err
	}
	trapSigInfo(g)

	return g.Run(ctx)
}

func parseThresholds(hot, cool string) (krun.Thresholds, error) {
	var th krun.Thresholds
	var err error
	if th.Hot, err = strconv.ParseFloat(hot, 64); err != nil {
		return th, fmt.Errorf("invalid hot threshold %q: %w", hot, err)
	}
	if th.Cool, err = strconv.ParseFloat(cool, 64); err != nil {
		return th, fmt.Errorf("invalid cool threshold %q: %w", cool, err)
	}
	return th, th.Validate()
}

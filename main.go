package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	slog "github.com/vearne/simplelog"

	"github.com/mapitools/mapiproxy/addr"
	"github.com/mapitools/mapiproxy/config"
	"github.com/mapitools/mapiproxy/event"
	"github.com/mapitools/mapiproxy/mapi"
	"github.com/mapitools/mapiproxy/pcap"
	"github.com/mapitools/mapiproxy/proxy"
	"github.com/mapitools/mapiproxy/render"
)

// set with -ldflags at release time
var (
	version   = "dev"
	buildTime = "unknown"
)

var settings config.AppSettings
var levelFlags []string

func init() {
	levelSelector := func(name string, level mapi.Level) func(string) error {
		return func(string) error {
			settings.Level = level
			levelFlags = append(levelFlags, name)
			return nil
		}
	}
	flag.BoolFunc("messages", "dump whole messages", levelSelector("messages", mapi.LevelMessages))
	flag.BoolFunc("m", "short for --messages", levelSelector("messages", mapi.LevelMessages))
	flag.BoolFunc("blocks", "dump individual blocks", levelSelector("blocks", mapi.LevelBlocks))
	flag.BoolFunc("b", "short for --blocks", levelSelector("blocks", mapi.LevelBlocks))
	flag.BoolFunc("raw", "dump bytes as they come in", levelSelector("raw", mapi.LevelRaw))
	flag.BoolFunc("r", "short for --raw", levelSelector("raw", mapi.LevelRaw))

	flag.BoolVar(&settings.ForceBinary, "binary", false, "force hex dumps even for textual content")
	flag.BoolVar(&settings.ForceBinary, "B", false, "short for --binary")

	flag.Var(&settings.Brief, "brief",
		fmt.Sprintf("abbreviate long frames to the first and last N lines (default %d)",
			config.DefaultBriefLines))

	flag.Var(&settings.Color, "color", "colorize the output: 'always', 'auto' or 'never'")

	settings.Flush = config.WhenAlways
	flag.Var(&settings.Flush, "flush",
		"flush the output after every event: 'always', 'auto' or 'never'")

	flag.StringVar(&settings.Output, "output", "", "write the rendering to a file instead of stdout")
	flag.StringVar(&settings.Output, "o", "", "short for --output")

	flag.StringVar(&settings.PcapFile, "pcap", "",
		"replay the given capture file instead of proxying, '-' reads stdin (experimental)")

	flag.BoolVar(&settings.Oob, "oob", true, "relay TCP urgent data between the sockets")

	flag.StringVar(&settings.ConfigFile, "config", "", "TOML file with option defaults")

	flag.BoolVar(&settings.ShowVersion, "version", false, "print version")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [OPTIONS] LISTEN_ADDR FORWARD_ADDR\n", os.Args[0])
		fmt.Fprintf(w, "       %s [OPTIONS] --pcap=FILE\n\n", os.Args[0])
		fmt.Fprintf(w, "Addresses are PORT, HOST:PORT or a Unix socket path.\n\nOptions:\n")
		flag.PrintDefaults()
	}
}

func main() {
	adjustLogLevel()
	flag.Parse()

	if settings.ShowVersion {
		fmt.Println("mapiproxy")
		fmt.Println("Version", version)
		fmt.Println("BuildTime", buildTime)
		return
	}

	if err := run(); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run() error {
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if settings.ConfigFile != "" {
		defaults, err := config.LoadDefaults(settings.ConfigFile)
		if err != nil {
			return err
		}
		if err := defaults.Apply(&settings, explicit); err != nil {
			return err
		}
		if defaults.Level != nil && len(levelFlags) == 0 {
			levelFlags = append(levelFlags, "config")
		}
	}

	if err := checkLevelFlags(); err != nil {
		return err
	}

	out, closer, err := openOutput()
	if err != nil {
		return err
	}
	defer closer()

	colors := render.NoColors
	if settings.Color.Evaluate(out) {
		colors = render.VT100Colors
	}

	renderer := render.New(colors, out)
	renderer.SetAutoflush(settings.Flush.Evaluate(out))
	renderer.SetBrief(settings.Brief.Lines)
	defer renderer.Flush()

	state := mapi.NewState(settings.Level, settings.ForceBinary)
	handler := state.Handler(renderer)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if settings.PcapFile != "" {
		if flag.NArg() != 0 {
			return usageError("--pcap does not take address arguments")
		}
		return runPcap(ctx, handler)
	}

	if flag.NArg() != 2 {
		return usageError("expected LISTEN_ADDR and FORWARD_ADDR")
	}
	listen, err := addr.Parse(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("listen address: %w", err)
	}
	forward, err := addr.Parse(flag.Arg(1))
	if err != nil {
		return fmt.Errorf("forward address: %w", err)
	}

	slog.Info("mapiproxy %v: %v -> %v", version, listen, forward)
	return proxy.New(listen, forward, settings.Oob).Run(ctx, handler)
}

func runPcap(ctx context.Context, handler event.Handler) error {
	f := os.Stdin
	if settings.PcapFile != "-" {
		var err error
		f, err = os.Open(settings.PcapFile)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
	}

	// An interrupt closes the input so a blocked read returns and the
	// conversations replayed so far still drain and flush.
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()
	return pcap.Run(ctx, f, handler)
}

func checkLevelFlags() error {
	distinct := make(map[string]bool)
	for _, name := range levelFlags {
		distinct[name] = true
	}
	switch {
	case len(distinct) == 0:
		return usageError("one of --messages, --blocks or --raw is required")
	case len(distinct) > 1:
		return usageError("--messages, --blocks and --raw are mutually exclusive")
	}
	return nil
}

func openOutput() (*os.File, func(), error) {
	if settings.Output == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(settings.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func adjustLogLevel() {
	if len(os.Getenv("SIMPLE_LOG_LEVEL")) > 0 {
		return
	}
	slog.SetLevel(slog.WarnLevel)
}

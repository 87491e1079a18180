package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okian/facefx/internal/drive"
)

// defaultRunTimeout bounds a whole drive.
const defaultRunTimeout = 5 * time.Minute

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:9080", "Base URL of the service")
		overlays = flag.String("overlays", "", "Comma separated overlay IDs to cycle (default: all)")
		record   = flag.Duration("record", drive.DefaultRecord, "Recording length, pauses excluded")
		pause    = flag.Duration("pause", 0, "Pause inserted mid recording")
		pollers  = flag.Int("pollers", drive.DefaultPollers, "Concurrent pollers while recording")
		interval = flag.Duration("interval", drive.DefaultPollInterval, "Delay between polls")
		timeout  = flag.Duration("timeout", drive.DefaultTimeout, "HTTP request timeout")
		format   = flag.String("format", "", "Requested container MIME type")
		preset   = flag.String("preset", "", "Requested resolution preset")
		audio    = flag.Bool("audio", false, "Request microphone audio")
		outDir   = flag.String("out", "", "Directory for the downloaded recording")
		logFile  = flag.String("log", "", "Also write logs to this file")
		verbose  = flag.Bool("verbose", false, "Log every poll")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		drive.ShowHelp(os.Stdout)
		return
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	closer, err := drive.SetupLogging(level, *logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &drive.Config{
		BaseURL:      *baseURL,
		Record:       *record,
		Pause:        *pause,
		Pollers:      *pollers,
		PollInterval: *interval,
		Timeout:      *timeout,
		Format:       *format,
		Preset:       *preset,
		Audio:        *audio,
		OutputDir:    *outDir,
		Verbose:      *verbose,
	}
	if *overlays != "" {
		for _, id := range strings.Split(*overlays, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Overlays = append(cfg.Overlays, id)
			}
		}
	}

	if _, err := drive.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Drive failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}

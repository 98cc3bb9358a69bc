package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/kisy/netdash/config"
	"github.com/kisy/netdash/pkg/logging"
	"github.com/kisy/netdash/pkg/metrics"
	"github.com/kisy/netdash/pkg/poller"
	"github.com/kisy/netdash/pkg/report"
	"github.com/kisy/netdash/pkg/source"
	"github.com/kisy/netdash/pkg/stats"
	"github.com/kisy/netdash/pkg/table"
	"github.com/kisy/netdash/pkg/web"
)

// sourceFlags allows multiple -source name=url flags
type sourceFlags []config.Source

func (s *sourceFlags) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *sourceFlags) Set(value string) error {
	name, url, ok := strings.Cut(value, "=")
	if !ok || name == "" || url == "" {
		return fmt.Errorf("want name=url, got %q", value)
	}
	*s = append(*s, config.Source{Name: name, URL: url})
	return nil
}

func main() {
	var (
		cfgFile string
		cfg     config.Config
	)

	defaultCfg := config.DefaultConfig()
	cfg = defaultCfg

	var (
		srcFlags   sourceFlags
		once       bool
		visitRows  int
		reportType string
		reportFmt  string
		startDate  string
		endDate    string
		outPath    string
	)

	flag.StringVar(&cfgFile, "c", "", "Path to TOML configuration file")
	flag.StringVar(&cfg.HTTPAddr, "l", defaultCfg.HTTPAddr, "Web server address")
	flag.StringVar(&cfg.Mode, "mode", defaultCfg.Mode, "Dashboard mode (live, report)")
	flag.IntVar(&cfg.RefreshInterval, "s", defaultCfg.RefreshInterval, "Refresh interval in seconds (0 = mode default)")
	flag.IntVar(&cfg.FetchTimeout, "t", defaultCfg.FetchTimeout, "Per-source request timeout in seconds")
	flag.IntVar(&cfg.TrafficDays, "days", defaultCfg.TrafficDays, "Days of traffic history to load")
	flag.StringVar(&cfg.LogLevel, "log", defaultCfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.LogJSON, "json", defaultCfg.LogJSON, "Log as JSON")
	flag.Var(&srcFlags, "source", "API source as name=url, tried in order (can be specified multiple times)")

	flag.BoolVar(&once, "once", false, "Load one snapshot, print it and exit")
	flag.IntVar(&visitRows, "visits", 20, "Visits to print with -once (0 = all)")
	flag.StringVar(&reportType, "report", "", "Download a report of this type and exit")
	flag.StringVar(&reportFmt, "format", "pdf", "Report format (pdf, excel, csv)")
	flag.StringVar(&startDate, "start", "", "Report start date YYYY-MM-DD (default: 7 days ago)")
	flag.StringVar(&endDate, "end", "", "Report end date YYYY-MM-DD (default: today)")
	flag.StringVar(&outPath, "o", "", "Report output file (default: generated name)")

	flag.Parse()

	// Load configuration
	if cfgFile != "" {
		if err := config.LoadConfig(cfgFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Sources given on the command line replace the configured chain
	if len(srcFlags) > 0 {
		cfg.Sources = srcFlags
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	httpClient := &http.Client{}

	if reportType != "" {
		if err := downloadReport(ctx, logger, report.NewClient(cfg.ReportURL, httpClient), reportType, reportFmt, startDate, endDate, outPath); err != nil {
			logger.Error("report download failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sources := make([]*source.Client, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, source.NewClient(s.Name, s.URL, httpClient))
	}

	ctrl := poller.New(logger, sources, poller.Options{
		Interval:     cfg.Interval(),
		FetchTimeout: cfg.Timeout(),
		TrafficDays:  cfg.TrafficDays,
		Hostnames:    cfg.Hostname,
	})

	if once {
		snap, err := ctrl.LoadAll(ctx)
		if snap == nil {
			logger.Error("load failed", "error", err)
			os.Exit(1)
		}
		table.Summary(os.Stdout, snap, stats.Compute(snap))
		table.Devices(os.Stdout, snap.Devices, time.Local)
		table.Visits(os.Stdout, snap.Visits, visitRows, time.Local)
		return
	}

	logger.Info("starting netdash",
		"mode", cfg.Mode,
		"interval", cfg.Interval(),
		"timeout", cfg.Timeout(),
		"sources", cfg.Sources,
		"http", cfg.HTTPAddr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewExporter(ctrl),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var reporter web.Reporter
	if cfg.ReportURL != "" {
		reporter = report.NewClient(cfg.ReportURL, httpClient)
	}
	webServer := web.NewServer(logger, ctrl, reporter, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ctrl.Subscribe(webServer.Publish)

	mux := http.NewServeMux()
	webServer.RegisterHandlers(mux)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("web server failed", "error", err)
			stop()
		}
	}()
	logger.Info("web API available", "url", fmt.Sprintf("http://%s/api/stats", cfg.HTTPAddr))

	// Main Loop
	if err := ctrl.Run(ctx); err != nil {
		logger.Error("controller stopped", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("web server shutdown", "error", err)
	}
}

func downloadReport(ctx context.Context, logger *slog.Logger, c *report.Client, reportType, format, start, end, outPath string) error {
	req := report.DefaultRange(time.Now(), reportType, format)
	if start != "" {
		req.StartDate = start
	}
	if end != "" {
		req.EndDate = end
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if outPath == "" {
		outPath = req.Filename()
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	n, _, err := c.Download(ctx, req, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return err
	}
	logger.Info("report saved", "file", outPath, "bytes", n)
	return nil
}

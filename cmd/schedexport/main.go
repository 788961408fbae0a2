package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"schedexport/internal/capture"
	"schedexport/internal/config"
	"schedexport/internal/export"
	"schedexport/internal/feed"
	"schedexport/internal/layout"
	appLog "schedexport/internal/log"
	"schedexport/internal/pdf"
	"schedexport/internal/schedule"
	"schedexport/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	out        string
	selection  string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"events_file", conf.Feed.EventsFile,
		"ics_count", len(conf.Feed.ICS),
		"page_capacity", conf.PageCapacity,
		"format", conf.Export.Format,
		"orientation", conf.Export.Orientation,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("schedexport failed", err)
		os.Exit(1)
	}
	appLog.Info("schedexport exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Export one document and exit")
	flag.StringVar(&cfg.out, "out", "", "Output path for -once (defaults to export.output_path)")
	flag.StringVar(&cfg.selection, "type", schedule.AllCategories, "Event type exported by -once")

	flag.Parse()

	return cfg
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func sources(conf *config.Config) []feed.Source {
	out := make([]feed.Source, 0, len(conf.Feed.ICS))
	for _, csrc := range conf.Feed.ICS {
		if csrc.URL == "" {
			continue
		}
		id := csrc.ID
		if id == "" {
			id = csrc.Name
		}
		if id == "" {
			id = csrc.URL
		}
		out = append(out, feed.Source{ID: id, URL: csrc.URL, Category: csrc.Category})
	}
	return out
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := resolveLocationOrLocal(conf.Timezone)
	parser := schedule.NewDateParser(conf.MinYear, loc)

	store := feed.NewStore(feed.StoreOptions{
		EventsFile: conf.Feed.EventsFile,
		Period:     conf.Feed.Period,
		Sources:    sources(conf),
		Horizon:    time.Duration(conf.Feed.HorizonDays) * 24 * time.Hour,
		Location:   loc,
		Fetcher:    feed.NewFetcher(conf.Feed.CacheDir, nil),
		Parser:     parser,
	})
	if err := store.Refresh(ctx); err != nil {
		// The server still starts; exports answer 503 until a refresh succeeds.
		appLog.Error("initial feed load failed", err)
	}

	renderer, err := layout.NewRenderer(conf.Export.ViewportWidth)
	if err != nil {
		return err
	}
	host := layout.NewHost(renderer)

	browser := capture.NewChromium(ctx, capture.Options{
		Width:   conf.Export.ViewportWidth,
		Timeout: time.Duration(conf.Export.TimeoutSeconds) * time.Second,
	})
	defer browser.Close()

	orch := export.NewOrchestrator(parser, export.Options{
		Layout: export.Layout{
			Capacity:        conf.PageCapacity,
			Columns:         conf.GridColumns,
			CrossOrigin:     conf.Export.CrossOrigin,
			BackgroundColor: conf.Export.BackgroundColor,
			Branding: export.Branding{
				LogoURL:      conf.Branding.LogoURL,
				WatermarkURL: conf.Branding.WatermarkURL,
				Heading:      conf.Branding.Heading,
				Subheading:   conf.Branding.Subheading,
				Title:        conf.Branding.Title,
			},
		},
		Capture: export.CaptureOptions{
			Scale:           conf.Export.Scale,
			CrossOrigin:     conf.Export.CrossOrigin,
			BackgroundColor: conf.Export.BackgroundColor,
		},
		Document: export.DocumentOptions{
			Orientation: conf.Export.Orientation,
			Unit:        conf.Export.Unit,
			Format:      conf.Export.Format,
		},
		Settle: time.Duration(conf.Export.SettleMillis) * time.Millisecond,
	}, host, browser, pdf.NewDocument)

	request := func(selection string) export.Request {
		f, ok := store.Feed()
		if !ok {
			return export.Request{}
		}
		v := schedule.Derive(parser, f.Events, selection)
		return export.Request{View: &v, Period: f.Period}
	}

	if flags.once {
		return runOnce(ctx, conf, flags, host, orch, request(flags.selection))
	}

	c := cron.New(cron.WithLocation(loc))
	timeout := time.Duration(conf.Export.TimeoutSeconds) * time.Second
	if _, err := store.Register(c, conf.Feed.Refresh, timeout); err != nil {
		return err
	}
	if conf.Export.Schedule != "" {
		src := func() export.Request { return request(schedule.AllCategories) }
		if _, err := export.ScheduleToFile(c, conf.Export.Schedule, orch, src, conf.Export.OutputPath, timeout); err != nil {
			return err
		}
		appLog.Info("scheduled export enabled", "schedule", conf.Export.Schedule, "path", conf.Export.OutputPath)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", conf.Listen, err)
	}
	host.SetBaseURL(web.BaseURL(ln.Addr()))

	srv := web.NewServer(conf, web.Deps{
		Parser:     parser,
		Feeds:      store,
		Exports:    orch,
		Renderer:   renderer,
		Workspaces: host,
	})
	return srv.Serve(ctx, ln)
}

// runOnce serves only the workspace pages on a loopback port, exports one
// document and writes it.
func runOnce(ctx context.Context, conf *config.Config, flags flagConfig, host *layout.Host, orch *export.Orchestrator, req export.Request) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	host.SetBaseURL(web.BaseURL(ln.Addr()))

	srv := &http.Server{Handler: host, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("workspace server failed", err)
		}
	}()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(conf.Export.TimeoutSeconds)*time.Second)
	defer cancel()

	res, err := orch.Export(ctx, req)
	if err != nil {
		return err
	}

	out := flags.out
	if out == "" {
		out = conf.Export.OutputPath
	}
	if err := export.WriteFile(out, res.PDF); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	appLog.Info("export written", "path", out, "pages", res.Pages, "selection", res.Selection)
	return nil
}

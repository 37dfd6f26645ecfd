package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"uvcal/internal/calendar"
	"uvcal/internal/capture"
	"uvcal/internal/config"
	"uvcal/internal/holiday"
	"uvcal/internal/loader"
	appLog "uvcal/internal/log"
	"uvcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	year       string
	once       bool
	hashPass   bool
}

func main() {
	flags := parseFlags()

	if flags.hashPass {
		if err := runHashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "uvcal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "uvcal: .env: %v\n", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uvcal: failed to load config %s: %v\n", flags.configPath, err)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "uvcal: %v\n", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Init(conf.Log.Level, conf.Log.Env); err != nil {
		fmt.Fprintf(os.Stderr, "uvcal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"person_id", conf.PersonID,
		"public_source", conf.PublicHolidays.Source,
		"shown_months", conf.ShownMonths,
		"refresh", conf.RefreshCron,
		"capture", conf.Capture.Enabled,
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := newHolidayService(conf)
	renderer := calendar.New(calendar.Options{
		ShownMonths: conf.ShownMonths,
		WeekStart:   conf.Weekday(),
		Locale:      conf.Locale,
		MonthWidth:  conf.MonthWidth,
		Viewport:    calendar.Viewport{Width: conf.Capture.Width, Height: conf.Capture.Height},
		ResizeDelay: conf.ResizeDelay(),
		Now:         func() time.Time { return time.Now().In(conf.Location()) },
	})
	defer renderer.Close()

	ld := loader.New(svc, renderer,
		loader.WithShownMonths(conf.ShownMonths),
		loader.WithClock(func() time.Time { return time.Now().In(conf.Location()) }),
	)

	if flags.once {
		report := ld.Load(ctx, flags.year)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			appLog.Error("failed to write report", err)
			os.Exit(1)
		}
		if report.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	ld.Load(ctx, flags.year)

	sched := cron.New(cron.WithLocation(conf.Location()))
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		appLog.Info("scheduled reload")
		ld.Reload(ctx)
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	previewPath := ""
	if conf.Capture.Enabled {
		previewPath = conf.Capture.OutputPath
	}
	srv := web.NewServer(conf, ld, renderer, previewPath)

	var previewer *capture.Previewer
	if conf.Capture.Enabled {
		token, err := newCaptureToken()
		if err != nil {
			appLog.Error("failed to create capture token", err)
			os.Exit(1)
		}
		srv.SetCaptureToken(token)
		previewer = capture.NewPreviewer(ctx, capture.Options{
			URL:        captureURL(conf),
			OutputPath: conf.Capture.OutputPath,
			Width:      conf.Capture.Width,
			Height:     conf.Capture.Height,
			Timeout:    time.Duration(conf.Capture.TimeoutSec) * time.Second,
			Headers:    map[string]string{web.CaptureTokenHeader: token},
		}, nil)
		renderer.OnRender(func(calendar.View) { previewer.Trigger() })
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx) }()

	// The initial render happened before the server was up.
	if previewer != nil {
		previewer.Trigger()
	}

	if err := <-srvErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
	}

	appLog.Info("shutting down")
	<-sched.Stop().Done()
	appLog.Info("uvcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/uvcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.year, "year", "", "Year to centre the calendar on (default: today)")
	flag.BoolVar(&cfg.once, "once", false, "Run one load, print the report as JSON and exit")
	flag.BoolVar(&cfg.hashPass, "hash-password", false, "Read a password and print its Argon2id hash for basic_auth.password")

	flag.Parse()

	return cfg
}

// newHolidayService builds the holiday service with its HTTP cache and the
// configured public holiday source.
func newHolidayService(conf *config.Config) *holiday.Service {
	loc := conf.Location()
	timeout := time.Duration(conf.Upstream.TimeoutSec) * time.Second

	cacheDir := ""
	if conf.CacheDir != "" {
		cacheDir = filepath.Join(conf.CacheDir, "upstream")
	}
	fetcher := holiday.NewFetcher(&http.Client{Timeout: timeout}, cacheDir)
	if ba := conf.Upstream.BasicAuth; ba != nil {
		fetcher.SetBasicAuth(ba.Username, ba.Password)
	}

	opts := []holiday.Option{
		holiday.WithBaseURL(conf.Upstream.BaseURL),
		holiday.WithFetcher(fetcher),
		holiday.WithLocation(loc),
	}

	switch conf.PublicHolidays.Source {
	case config.PublicSourceICS:
		// Separate fetcher so upstream credentials never reach the feed host.
		icsCache := ""
		if conf.CacheDir != "" {
			icsCache = filepath.Join(conf.CacheDir, "ics")
		}
		icsFetcher := holiday.NewFetcher(&http.Client{Timeout: timeout}, icsCache)
		opts = append(opts, holiday.WithPublicSource(holiday.NewICSSource(icsFetcher, conf.PublicHolidays.ICSURL, loc)))
	case config.PublicSourceBuiltin:
		opts = append(opts, holiday.WithPublicSource(holiday.NewBuiltinSource(loc, conf.PublicHolidays.HalfDayEves)))
	}

	return holiday.New(conf.Upstream.WebPrefix, conf.Upstream.APIPrefix, conf.PersonID, opts...)
}

// captureURL is the local page headless Chromium screenshots. It shows the
// last render and never triggers a load of its own.
func captureURL(conf *config.Config) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		host, port = "127.0.0.1", "8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: web.CurrentPath}
	return u.String()
}

// newCaptureToken returns a random per-process token for preview capture.
func newCaptureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

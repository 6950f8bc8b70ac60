package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caldup/internal/capture"
	"caldup/internal/config"
	"caldup/internal/create"
	"caldup/internal/dom"
	"caldup/internal/duplicate"
	appLog "caldup/internal/log"
	"caldup/internal/model"
	"caldup/internal/notify"
	"caldup/internal/registry"
	"caldup/internal/supervisor"
	"caldup/internal/web"
)

// clickPollInterval is how often queued affordance clicks are collected
// from the page.
const clickPollInterval = 250 * time.Millisecond

type flagConfig struct {
	configPath string
	url        string
	dryRun     bool
	headful    bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	defer appLog.Sync()

	appLog.Info("caldup starting", "version", "0.1.0-dev")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.url != "" {
		conf.CalendarURL = flags.url
	}
	if flags.headful {
		conf.Headless = false
	}

	appLog.Info("effective config",
		"calendar_url", conf.CalendarURL,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"headless", conf.Headless,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	browser, err := dom.NewBrowser(ctx, dom.BrowserOptions{
		URL:      conf.CalendarURL,
		Headless: conf.Headless,
	})
	if err != nil {
		appLog.Error("browser launch failed", err, "url", conf.CalendarURL)
		os.Exit(1)
	}
	defer browser.Close()

	loc := conf.Location()
	reg := registry.New()

	sup := supervisor.New(browser, reg, supervisor.Options{
		Config: conf.ResilienceModel(),
		Enhance: func(ctx context.Context, el dom.Element) error {
			id := el.EventID
			if id == "" {
				id = el.Ref
			}
			return browser.InjectAffordance(ctx, el.Ref, id)
		},
	})

	creator := buildCreator(ctx, conf, browser, flags.dryRun)
	var artifact *create.ArtifactWriter
	if conf.ArtifactDir != "" {
		artifact = create.NewArtifactWriter(conf.ArtifactDir)
	}

	orch := duplicate.New(browser, browser, creator, notify.LogSink{}, reg, artifact, duplicate.Options{
		Location: loc,
		FallbackDate: func(ctx context.Context, rec model.EventRecord) (time.Time, bool) {
			return dom.GridDate(ctx, browser, rec.ElementRef, loc)
		},
		OnError: func(err error) {
			sup.RecordError(err)
			if conf.ArtifactDir != "" {
				if path, serr := capture.Snapshot(ctx, browser, conf.ArtifactDir, "duplicate"); serr != nil {
					appLog.Debug("failure snapshot skipped", "err", serr)
				} else {
					appLog.Info("failure snapshot written", "path", path)
				}
			}
		},
	})

	// Feature stays disabled on init failure, but the process (and the
	// status API) keeps running; the supervisor schedules its own
	// recovery attempt.
	if err := sup.Start(ctx); err != nil {
		appLog.Error("supervisor start failed", err)
	}
	defer sup.Stop()

	if conf.Listen != "" {
		go func() {
			if err := web.StartServer(conf.Listen, sup, reg); err != nil {
				appLog.Error("status server exited", err)
			}
		}()
	}

	runClickPump(ctx, browser, orch)

	appLog.Info("caldup exiting")
}

// buildCreator wires the API path with its credential chain plus the URL
// fallback. Dry-run skips the API entirely.
func buildCreator(ctx context.Context, conf *config.Config, browser *dom.Browser, dryRun bool) create.Creator {
	urlPath := create.NewURLCreator(browser, "")
	if dryRun {
		return urlPath
	}

	sources := []create.CredentialSource{
		create.StorageSource{Page: browser, Keys: conf.Credentials.StorageKeys},
		create.CookieSource{Page: browser, Names: conf.Credentials.CookieNames},
		create.EnvSource{Var: conf.Credentials.TokenEnv},
		create.StaticSource{Value: conf.Credentials.Token},
	}
	if conf.Credentials.RefreshToken != "" {
		sources = append(sources, create.NewOAuthRefreshSource(ctx,
			conf.Credentials.ClientID,
			conf.Credentials.ClientSecret,
			conf.Credentials.TokenURL,
			conf.Credentials.RefreshToken,
		))
	}
	chain := create.NewChain(sources...)
	api := create.NewAPICreator(chain, conf.APIBaseURL, conf.CalendarID, conf.Timezone)
	return create.FallbackCreator{API: api, URL: urlPath}
}

// runClickPump collects affordance clicks and runs one duplication per
// click until the context ends. Workflow errors are already notified and
// counted; here they are only logged.
func runClickPump(ctx context.Context, browser *dom.Browser, orch *duplicate.Orchestrator) {
	ticker := time.NewTicker(clickPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := browser.DrainClicks(ctx)
			if err != nil {
				appLog.Debug("click drain failed", "err", err)
				continue
			}
			for _, id := range ids {
				if err := orch.Duplicate(ctx, id); err != nil {
					appLog.Error("duplication failed", err, "event_id", id)
				}
			}
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/caldup/config.yaml", "Path to config file")
	flag.StringVar(&cfg.url, "url", "", "Calendar URL (overrides config if set)")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Never call the calendar API; use the template-URL path only")
	flag.BoolVar(&cfg.headful, "headful", false, "Run Chromium with a visible window")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

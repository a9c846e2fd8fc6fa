package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/notify"
	"ojsbot-backend/internal/runner"
	"ojsbot-backend/internal/staging"
	"ojsbot-backend/lib/configutil"
	"ojsbot-backend/lib/restyutil"
	"ojsbot-backend/lib/serviceutil"
	libtelemetry "ojsbot-backend/lib/telemetry"
	"ojsbot-backend/services/journals"
	"ojsbot-backend/services/journals/db"
	"ojsbot-backend/services/uploader"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

func initTelemetry(ctx context.Context) {
	otel, err := libtelemetry.SetupFromEnv(ctx, "ojsd")
	if err != nil {
		slog.Warn("telemetry is not configured, traces and metrics will not be exported", "err", err)
		return
	}
	go func() {
		<-ctx.Done()
		err := otel.Shutdown(context.Background())
		if err != nil {
			slog.Warn("shutdown telemetry", "err", err)
		}
	}()
	libtelemetry.InstrumentPerfStats(ctx, time.Minute)
}

// instrumentOutput returns where http dumps of a component go, dumps are
// only written in verbose mode.
func instrumentOutput(verbose bool, component string) restyutil.InstrumentOutput {
	if !verbose {
		return nil
	}
	output, err := restyutil.NewFilesystemOutput(filepath.Join(".dev", "resty", component))
	if err != nil {
		slog.Warn("http dumps disabled", "component", component, "err", err)
		return nil
	}
	return output
}

// waiter is a notifier that delivers in the background.
type waiter interface {
	Wait()
}

func initNotifier(ctx context.Context, cfg Config, tel telemetry.API) (notify.Notifier, *notify.Telegram, []waiter) {
	var notifiers notify.Multi
	var waiters []waiter
	var bot *notify.Telegram

	if notify.TelegramConfigured(cfg.Telegram.Token, cfg.Telegram.AdminChatId) {
		secret := cfg.Telegram.WebhookSecret
		if secret == "" {
			var err error
			secret, err = serviceutil.GenerateAccessToken()
			if err != nil {
				serviceutil.Fatal("generate webhook secret", err)
			}
		}
		bot = notify.NewTelegram(notify.TelegramOptions{
			Token:         cfg.Telegram.Token,
			AdminChatId:   cfg.Telegram.AdminChatId,
			WebhookSecret: secret,
			Tel:           tel,
		})
		name, err := bot.Me(ctx)
		if err != nil {
			slog.Warn("telegram bot is unreachable", "err", err)
		} else {
			slog.Info("telegram notifications enabled", "bot", name)
		}
		if cfg.Telegram.WebhookUrl != "" {
			err = bot.SetWebhook(ctx, cfg.Telegram.WebhookUrl)
			if err != nil {
				slog.Warn("register telegram webhook", "err", err)
			}
		}
		notifiers = append(notifiers, bot)
		waiters = append(waiters, bot)
	}
	if cfg.Email.Configured() {
		email := notify.NewEmail(cfg.Email, tel)
		notifiers = append(notifiers, email)
		waiters = append(waiters, email)
		slog.Info("email notifications enabled", "recipients", len(cfg.Email.Recipients))
	}

	if len(notifiers) == 0 {
		return notify.Noop{}, nil, nil
	}
	return notifiers, bot, waiters
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	libtelemetry.InitSlog(*verbose)
	if *verbose {
		slog.Debug("verbose logging enabled")
	}
	initTelemetry(ctx)
	tel := telemetry.SlogAPI{}

	cfg, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	cfg = cfg.withDefaults()

	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}

	database, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	area, err := staging.NewArea(cfg.StagingDir)
	if err != nil {
		serviceutil.Fatal("init staging area", err)
	}
	reporter, err := runner.NewReporter(cfg.ReportsDir, clock)
	if err != nil {
		serviceutil.Fatal("init reports", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := runner.NewMetrics(registry)
	if err != nil {
		serviceutil.Fatal("register metrics", err)
	}

	driver := runner.NewDriver(runner.DriverOptions{
		Area: area,
		Fetcher: staging.NewFetcher(staging.FetcherOptions{
			Tel:              tel,
			InstrumentOutput: instrumentOutput(*verbose, "fetcher"),
		}),
		Reporter: reporter,
		Ceiling:  cfg.UnitCeilingMb * 1024 * 1024,
		Metrics:  metrics,
		Tel:      tel,
	})

	notifier, bot, waiters := initNotifier(ctx, cfg, tel)
	sessionOutput := instrumentOutput(*verbose, "ojs")
	sessions := runner.NewOjsSessionFactory(clock, tel, rate.Limit(cfg.RequestsPerSecond), sessionOutput)
	withPaths := func(target runner.JournalTarget) (runner.Session, error) {
		target.Paths = cfg.Paths
		return sessions(target)
	}

	r := runner.NewRunner(ctx, runner.Options{
		Driver:            driver,
		Sessions:          withPaths,
		Notifier:          notifier,
		Metrics:           metrics,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		Clock:             clock,
		Tel:               tel,
	})

	cron := chrono.NewStandardCron(ctx, tel, clock.Location())
	retention := time.Duration(*cfg.ReportRetentionDays) * time.Hour * 24
	err = runner.ScheduleReportRetention(cron, cfg.ReportRetentionCron, reporter, clock, retention, tel)
	if err != nil {
		serviceutil.Fatal("schedule report retention", err)
	}

	accessToken := cfg.AccessToken
	if accessToken == "" {
		accessToken, err = serviceutil.GenerateAccessToken()
		if err != nil {
			serviceutil.Fatal("generate access token", err)
		}
		slog.Warn("no access_token configured, using a generated one", "access_token", accessToken)
	}

	otelInterceptor, err := serviceutil.NewConnectOtelInterceptor()
	if err != nil {
		serviceutil.Fatal("init otel interceptor", err)
	}

	service := uploader.NewService(r, journals.NewStore(database, clock), reporter, tel)
	var webhook http.Handler
	if bot != nil {
		webhook = notify.WebhookHandler(bot, service.StatusText)
	}
	handler := uploader.NewHandler(service, uploader.HandlerOptions{
		AccessToken:  accessToken,
		Gatherer:     registry,
		Webhook:      webhook,
		Interceptors: []connect.Interceptor{otelInterceptor},
	})

	err = serviceutil.StartHttpServer(ctx, cfg.Port, handler)
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}

	slog.Info("waiting for running uploads to finish")
	r.Close()
	for _, w := range waiters {
		w.Wait()
	}
}

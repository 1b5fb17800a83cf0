package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonagenda/internal/agenda"
	"salonagenda/internal/appointment"
	"salonagenda/internal/availability"
	"salonagenda/internal/booking"
	"salonagenda/internal/changefeed"
	"salonagenda/internal/config"
	"salonagenda/internal/metrics"
	"salonagenda/internal/model"
	"salonagenda/internal/notify"
	"salonagenda/internal/slots"
	"salonagenda/internal/store"
	"salonagenda/internal/timegrid"
)

const usage = `usage: agenda <command> [flags]

commands:
  serve    keep a live agenda view and serve health and metrics endpoints
  slots    print open slots for a treatment on a date
  book     create an appointment
  cancel   cancel an appointment
`

// app holds the wiring shared by all commands.
type app struct {
	cfg     *config.Config
	db      *store.DB
	rdb     *redis.Client
	feed    changefeed.Feed
	service *agenda.Service
	logger  *zerolog.Logger
}

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(lvl)
	} else {
		logger.Warn().Str("level", cfg.Logging.Level).Msg("unknown log level, using info")
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = store.WithOrigin(ctx, uuid.NewString())

	a, err := setup(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.close()

	switch cmd {
	case "serve":
		err = a.serve(ctx)
	case "slots":
		err = a.slots(ctx, args)
	case "book":
		err = a.book(ctx, args)
	case "cancel":
		err = a.cancel(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		a.close()
		os.Exit(2)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		a.close()
		os.Exit(1)
	}
}

func setup(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.RedisEnabled() {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.feed = changefeed.NewRedisFeed(a.rdb, cfg.Redis.ChannelPrefix, logger)
	} else {
		logger.Warn().Msg("redis not configured, changes are only visible within this process")
		a.feed = changefeed.NewLocalFeed()
	}

	db, err := store.Open(cfg.Database.Path, a.feed, logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	grid, err := cfg.AdminGrid()
	if err != nil {
		return nil, err
	}
	a.service = agenda.New(db, a.feed, grid, availability.Options{EnforceDayOfWeek: cfg.Availability.EnforceDayOfWeek}, logger)

	if cfg.Telegram.BotToken != "" && cfg.Telegram.BotToken != "YOUR_BOT_TOKEN_HERE" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.service.SetNotifier(notify.NewTelegram(bot, cfg.Telegram.MessagesPerSecond))
	} else {
		a.service.SetNotifier(notify.Nop{})
	}
	return a, nil
}

func (a *app) close() {
	if a.service != nil {
		if err := a.service.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close agenda")
		}
		a.service = nil
	}
	if lf, ok := a.feed.(*changefeed.LocalFeed); ok {
		_ = lf.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
}

func (a *app) serve(ctx context.Context) error {
	today := timegrid.Day(time.Now())
	if err := a.service.Open(ctx, booking.Day(today), true); err != nil {
		return err
	}

	watcher := config.BoxWatcher{
		Path: a.cfg.BoxesConfigPath,
		OnUpdate: func(updated *config.BoxesConfig) {
			a.service.SetBoxes(updated.ActiveNames())
			a.logger.Info().Str("boxes", updated.String()).Msg("boxes config loaded")
		},
		OnError: func(err error) {
			a.logger.Warn().Err(err).Str("path", a.cfg.BoxesConfigPath).Msg("box file rejected, keeping previous boxes")
		},
	}
	if err := watcher.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("boxes watch failed")
	}

	if a.cfg.Monitoring.HealthCheckPort == 0 {
		a.cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, a.cfg.Monitoring.HealthCheckPort, a.db, a.rdb, a.logger)

	if a.cfg.Monitoring.PrometheusEnabled {
		if a.cfg.Monitoring.PrometheusPort == 0 {
			a.cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort, a.logger)
	}

	go a.rollDay(ctx)

	a.logger.Info().Str("date", timegrid.DateKey(today)).Msg("agenda started")
	<-ctx.Done()
	a.logger.Info().Msg("agenda stopping")
	return nil
}

// rollDay moves the live view to the new date after midnight.
func (a *app) rollDay(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := timegrid.Day(time.Now())
			if rng, _ := a.service.Syncer().View(); rng.From.Equal(today) {
				continue
			}
			if err := a.service.ShowDay(ctx, today); err != nil {
				a.logger.Error().Err(err).Msg("switch view to new day")
			}
		}
	}
}

func parseDateFlag(s string) (time.Time, error) {
	if s == "" {
		return timegrid.Day(time.Now()), nil
	}
	return timegrid.ParseDate(s)
}

func (a *app) slots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	date := fs.String("date", "", "date YYYY-MM-DD (default today)")
	treatment := fs.Int64("treatment", 0, "treatment id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := parseDateFlag(*date)
	if err != nil {
		return err
	}
	if err := a.service.Open(ctx, booking.Day(d), false); err != nil {
		return err
	}

	var out any
	if *treatment == 0 {
		out = a.service.TreatmentsAvailableOn(d)
	} else {
		open := a.service.OpenSlotsFor(*treatment, d)
		out = slots.ToSlotInfo(open, a.service.Resolver().Grid().Step)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	date := fs.String("date", "", "date YYYY-MM-DD (default today)")
	at := fs.String("time", "", "slot start HH:MM")
	box := fs.String("box", "", "box name")
	treatment := fs.Int64("treatment", 0, "treatment id (0 infers it from the slot)")
	sub := fs.Int64("subtreatment", 0, "subtreatment id")
	client := fs.Int64("client", 0, "client id")
	professional := fs.Int64("professional", 0, "professional id")
	deposit := fs.String("deposit", "", "deposit amount")
	notes := fs.String("notes", "", "notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := parseDateFlag(*date)
	if err != nil {
		return err
	}
	c, err := timegrid.ParseClock(*at)
	if err != nil {
		return err
	}
	dep, err := model.ParseMoney(*deposit)
	if err != nil {
		return err
	}
	if err := a.service.Open(ctx, booking.Day(d), false); err != nil {
		return err
	}

	created, err := a.service.Create(ctx, appointment.Request{
		Date:           d,
		Time:           c,
		Box:            *box,
		ClientID:       *client,
		ProfessionalID: *professional,
		TreatmentID:    *treatment,
		SubtreatmentID: *sub,
		Deposit:        dep,
		Notes:          *notes,
	})
	var sc *appointment.SlotConflictError
	if errors.As(err, &sc) {
		return fmt.Errorf("not available: %w", err)
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(created)
}

func (a *app) cancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	id := fs.Int64("id", 0, "appointment id")
	hard := fs.Bool("delete", false, "remove the row instead of canceling")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("-id is required")
	}
	if err := a.service.LoadIndex(ctx); err != nil {
		return err
	}
	if *hard {
		return a.service.Delete(ctx, *id)
	}
	canceled, err := a.service.Cancel(ctx, *id)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(canceled)
}

func startHealthServer(ctx context.Context, port int, database *store.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

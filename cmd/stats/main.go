// Command stats prints one statistic over a trailing window of the event
// log as a single JSON line.
//
//	stats mode-share --event market_state --value RISK_ON --days 7
//	stats conditional --event-x divergence --event-y risk_eval --same-symbol
//	stats event-share --event risk_eval --field risk_level --value 2
//	stats event-rate --event divergence
//	stats top-values --event ticker_cycle --field mode --top-n 3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/config"
	"github.com/rickgao/daily-stats/internal/loader"
	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/stats"
)

// source is the event reader the commands run against.
type source interface {
	Load(ctx context.Context, eventType string, w model.Window) ([]model.Event, error)
	LastBefore(ctx context.Context, eventType string, t time.Time) (*model.Event, error)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *env, args []string) (any, error)
}

var commands = []command{
	{"mode-share", "Share of time spent in a given mode.", modeShare},
	{"conditional", "P(Y|X) over a recent period.", conditional},
	{"event-share", "Share of events where field equals a value.", eventShare},
	{"event-rate", "Event frequency metrics (per hour/day).", eventRate},
	{"top-values", "Top values distribution for a payload field.", topValues},
}

// env is what every command needs.
type env struct {
	src    source
	now    time.Time
	stderr io.Writer
}

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	newSource := func() (source, error) {
		if err := config.LoadEnvFile(""); err != nil {
			return nil, err
		}
		cfg, err := config.LoadAndValidate(os.Getenv("DAILY_STATS_CONFIG"))
		if err != nil {
			return nil, err
		}
		client := api.NewClient(cfg.API.URL, cfg.API.Key,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, cfg.API.BackoffBase),
			api.WithJitter(cfg.API.JitterMin, cfg.API.JitterMax),
		)
		return loader.New(loader.Config{
			Table:       cfg.Loader.Table,
			PageSize:    cfg.Loader.PageSize,
			Concurrency: cfg.Loader.Concurrency,
		}, client, logger, nil), nil
	}

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, newSource, time.Now()))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newSource func() (source, error), now time.Time) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	src, err := newSource()
	if err != nil {
		fmt.Fprintf(stderr, "stats: %v\n", err)
		return 1
	}

	out, err := cmd.run(ctx, &env{src: src, now: now.UTC(), stderr: stderr}, args[1:])
	if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "stats %s: %v\n", cmd.name, err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "stats: encode: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: stats <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.usage)
	}
}

// parse parses fs and checks that every flag in required was given.
func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	seen := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	for _, name := range required {
		if !seen[name] {
			fmt.Fprintf(fs.Output(), "missing required flag --%s\n", name)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func (e *env) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func (e *env) load(ctx context.Context, event string, days int) ([]model.Event, model.Window, error) {
	w, err := model.TrailingWindow(e.now, days)
	if err != nil {
		return nil, model.Window{}, err
	}
	events, err := e.src.Load(ctx, event, w)
	if err != nil {
		return nil, model.Window{}, fmt.Errorf("load %s: %w", event, err)
	}
	return events, w, nil
}

func modeShare(ctx context.Context, e *env, args []string) (any, error) {
	fs := e.newFlagSet("mode-share")
	event := fs.String("event", "", "event name storing mode transitions")
	field := fs.String("field", "mode", "field inside data payload")
	value := fs.String("value", "", "target mode value")
	days := fs.Int("days", 7, "window size in days")
	if err := parse(fs, args, "event", "value"); err != nil {
		return nil, err
	}

	events, w, err := e.load(ctx, *event, *days)
	if err != nil {
		return nil, err
	}
	var initial string
	last, err := e.src.LastBefore(ctx, *event, w.Start)
	if err != nil {
		return nil, fmt.Errorf("last state before window: %w", err)
	}
	if last != nil {
		initial = stats.FieldLabel(*last, *field)
	}

	pct, err := stats.ModeShare(events, w, *field, *value, initial)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"metric":      "mode_share",
		"window_days": *days,
		"event":       *event,
		"field":       *field,
		"value":       *value,
		"percentage":  round(pct, 2),
	}, nil
}

func conditional(ctx context.Context, e *env, args []string) (any, error) {
	fs := e.newFlagSet("conditional")
	eventX := fs.String("event-x", "", "condition event X")
	eventY := fs.String("event-y", "", "outcome event Y")
	days := fs.Int("days", 30, "window size in days")
	maxLag := fs.Int("max-lag-hours", 24, "maximum allowed delay between X and Y")
	sameSymbol := fs.Bool("same-symbol", false, "require same symbol for X and Y")
	if err := parse(fs, args, "event-x", "event-y"); err != nil {
		return nil, err
	}
	if *maxLag < 0 {
		return nil, &model.ValidationError{Field: "max-lag-hours", Reason: "must be >= 0"}
	}

	x, _, err := e.load(ctx, *eventX, *days)
	if err != nil {
		return nil, err
	}
	y, _, err := e.load(ctx, *eventY, *days)
	if err != nil {
		return nil, err
	}

	pct := stats.ConditionalProbability(x, y, time.Duration(*maxLag)*time.Hour, *sameSymbol)
	return map[string]any{
		"metric":        "conditional_probability",
		"window_days":   *days,
		"event_x":       *eventX,
		"event_y":       *eventY,
		"max_lag_hours": *maxLag,
		"same_symbol":   *sameSymbol,
		"percentage":    round(pct, 2),
	}, nil
}

func eventShare(ctx context.Context, e *env, args []string) (any, error) {
	fs := e.newFlagSet("event-share")
	event := fs.String("event", "", "event name")
	field := fs.String("field", "", "payload field")
	value := fs.String("value", "", "value to match")
	days := fs.Int("days", 30, "window size in days")
	if err := parse(fs, args, "event", "field", "value"); err != nil {
		return nil, err
	}

	events, _, err := e.load(ctx, *event, *days)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"metric":      "event_share",
		"window_days": *days,
		"event":       *event,
		"field":       *field,
		"value":       *value,
		"percentage":  round(stats.EventShare(events, *field, *value), 2),
		"sample_size": len(events),
	}, nil
}

func eventRate(ctx context.Context, e *env, args []string) (any, error) {
	fs := e.newFlagSet("event-rate")
	event := fs.String("event", "", "event name")
	days := fs.Int("days", 30, "window size in days")
	if err := parse(fs, args, "event"); err != nil {
		return nil, err
	}

	events, w, err := e.load(ctx, *event, *days)
	if err != nil {
		return nil, err
	}
	rate, err := stats.EventRate(events, w)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"metric":          "event_rate",
		"window_days":     *days,
		"event":           *event,
		"events_count":    rate.Count,
		"events_per_hour": round(rate.PerHour, 4),
		"events_per_day":  round(rate.PerDay, 2),
	}, nil
}

type topValue struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

func topValues(ctx context.Context, e *env, args []string) (any, error) {
	fs := e.newFlagSet("top-values")
	event := fs.String("event", "", "event name")
	field := fs.String("field", "", "payload field")
	topN := fs.Int("top-n", 5, "number of values")
	days := fs.Int("days", 30, "window size in days")
	if err := parse(fs, args, "event", "field"); err != nil {
		return nil, err
	}

	events, _, err := e.load(ctx, *event, *days)
	if err != nil {
		return nil, err
	}
	top := []topValue{}
	for _, vc := range stats.TopValues(events, *field, *topN) {
		top = append(top, topValue{Value: vc.Value, Count: vc.Count, Percentage: round(vc.Percentage, 2)})
	}
	return map[string]any{
		"metric":      "top_values",
		"window_days": *days,
		"event":       *event,
		"field":       *field,
		"top":         top,
	}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/PingPipe/internal/api"
	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/genai"
	"github.com/BTreeMap/PingPipe/internal/lockfile"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/notify"
	"github.com/BTreeMap/PingPipe/internal/popup"
	"github.com/BTreeMap/PingPipe/internal/scheduler"
	"github.com/BTreeMap/PingPipe/internal/schedule"
	"github.com/BTreeMap/PingPipe/internal/store"
	"github.com/BTreeMap/PingPipe/internal/submit"
	"github.com/BTreeMap/PingPipe/internal/suggest"
	"github.com/BTreeMap/PingPipe/internal/util"
	"golang.org/x/sync/errgroup"
)

const (
	userIDFileName   = "user_id"
	suggestSeedDays  = 7
	outboxRecoverJob = "outbox-recover"
)

// loadOrCreateUserID returns the user ID persisted in the state directory,
// creating one on first start.
func loadOrCreateUserID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, userIDFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read user ID: %w", err)
	}
	id := util.GenerateUserID()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write user ID: %w", err)
	}
	slog.Info("loadOrCreateUserID: created user ID", "userID", id)
	return id, nil
}

// initialCadence is the cadence the engine starts with. Without autostart the
// cadence stays stopped until a client starts it.
func initialCadence(flags Flags, now time.Time) models.CadenceContext {
	c := models.CadenceContext{DesiredFrequency: time.Duration(flags.FrequencyMin) * time.Minute}
	if flags.AutoStart {
		c.StartedAt = now
		c.WasStarted = true
	}
	return c
}

// newSuggester builds the suggester, ranking with OpenAI when a key is configured.
func newSuggester(flags Flags) *suggest.Suggester {
	if flags.OpenAIKey == "" {
		return suggest.New()
	}
	client, err := genai.NewClient(flags.OpenAIKey, genai.WithModel(flags.OpenAIModel))
	if err != nil {
		slog.Warn("newSuggester: OpenAI disabled", "error", err)
		return suggest.New()
	}
	return suggest.New(suggest.WithCompleter(client))
}

// newNotifier returns nil when no recipient is configured or Twilio is unavailable.
func newNotifier(flags Flags) *notify.Notifier {
	if flags.NotifyTo == "" {
		return nil
	}
	client, err := notify.NewClient(notify.WithWhatsApp(flags.NotifyWhatsApp))
	if err != nil {
		slog.Warn("newNotifier: notifications disabled", "error", err)
		return nil
	}
	return notify.NewNotifier(client, flags.NotifyTo)
}

// run wires the engine to its store, delivery and API, and blocks until a
// shutdown signal arrives or the API server fails. The engine loop keeps running
// until the engine is stopped, after the API has shut down.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(flags.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if flags.UserID == "" {
		if flags.UserID, err = loadOrCreateUserID(flags.StateDir); err != nil {
			return err
		}
	}

	backend, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	loop := clock.NewLoop(clock.DefaultLoopBuffer)
	sysClock := clock.NewSystem(loop)

	var orch *popup.Orchestrator
	refresher := submit.NewRefresher(backend, sysClock, func(entries []models.Entry) {
		loop.Post(func() { orch.UpdateHistoricalEntries(entries) })
	})
	sender := store.NewOutboxSender(backend, submit.Deliver(backend, refresher.RefreshOrLog), store.DefaultOutboxPollInterval)
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("run: failed to recover stale outbox messages", "error", err)
	}
	channel := submit.NewChannel(backend, submit.WithUserID(flags.UserID), submit.WithNotify(sender.Trigger))
	orch = popup.NewOrchestrator(sysClock, channel)

	suggester := newSuggester(flags)
	if recent, err := backend.EntriesBetween(schedule.StartOfDay(time.Now()).AddDate(0, 0, -suggestSeedDays), time.Now()); err != nil {
		slog.Warn("run: failed to seed suggestions", "error", err)
	} else {
		suggester.Seed(recent)
	}
	orch.ResponsesAccepted.Subscribe(suggester.Record)

	notifier := newNotifier(flags)
	if notifier != nil {
		orch.PopupChanged.Subscribe(notifier.PopupChanged)
	}

	cadence := initialCadence(flags, time.Now())
	user := models.User{ID: flags.UserID, AccountType: flags.AccountType}
	loop.Post(func() {
		orch.UpdateUser(user)
		orch.UpdateCadenceContext(cadence)
	})
	if err := refresher.Refresh(); err != nil {
		slog.Warn("run: initial entry refresh failed", "error", err)
	}
	loop.Post(orch.Start)

	sched := scheduler.NewScheduler()
	jobs := []struct {
		name, expr string
		task       func()
	}{
		{"midnight-rollover", "0 0 * * *", refresher.RefreshOrLog},
		{"entry-refresh", flags.RefreshCron, refresher.RefreshOrLog},
		{outboxRecoverJob, "*/5 * * * *", func() {
			if err := sender.RecoverStaleMessages(); err != nil {
				slog.Error("run: outbox recovery failed", "error", err)
			}
		}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.name, j.expr, j.task); err != nil {
			sched.Stop()
			return err
		}
	}

	server := api.NewServer(loop, orch,
		api.WithAddr(flags.APIAddr),
		api.WithEntries(backend),
		api.WithSuggester(suggester),
		api.WithInitialState(cadence, user),
		api.WithUserHook(func(u models.User) { channel.SetUserID(u.ID) }),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(workCtx)
		return nil
	})
	g.Go(func() error {
		sender.Run(workCtx)
		return nil
	})
	if notifier != nil {
		g.Go(func() error {
			notifier.Run(workCtx)
			return nil
		})
	}
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("run: shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("run: API shutdown failed", "error", err)
		}
		<-sched.Stop().Done()

		callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loop.Call(callCtx, func() {
			orch.Stop()
			sysClock.StopAll()
		}); err != nil {
			slog.Warn("run: engine stop failed", "error", err)
		}
		// Deliver whatever was answered last before the store closes.
		sender.Poll(context.Background(), time.Now())
		cancelWork()
		return nil
	})
	return g.Wait()
}

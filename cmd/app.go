package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MimeLyc/stories-now/internal/backend"
	"github.com/MimeLyc/stories-now/internal/chat"
	"github.com/MimeLyc/stories-now/internal/config"
	"github.com/MimeLyc/stories-now/internal/documents"
	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/persistence"
	"github.com/MimeLyc/stories-now/internal/presenter"
	"github.com/MimeLyc/stories-now/internal/session"
	"github.com/MimeLyc/stories-now/internal/tts"
	"github.com/MimeLyc/stories-now/pkg/log"
)

type historyStore interface {
	jobs.Store
	Close() error
}

// app wires one process worth of components. Every poller it starts
// belongs to group and stops on close.
type app struct {
	cfg      *config.Config
	session  *session.Session
	client   *backend.Client
	store    historyStore
	tracker  *jobs.Tracker
	events   *presenter.Presenter
	observer jobs.Observer
	group    *jobs.Group
	library  *documents.Library
	speech   *tts.Service
	chat     *chat.Conversation
}

// newApp builds the components. Job history is opened only when withHistory is set,
// so account commands work without touching sqlite or redis.
func newApp(ctx context.Context, cfg *config.Config, progress io.Writer, withHistory bool) (*app, error) {
	sess, err := session.Load(cfg.Backend.SessionFile)
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(cfg.Backend.APIURL, sess, backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, session: sess, client: client}
	if withHistory {
		a.store, err = openHistory(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	var store jobs.Store
	if a.store != nil {
		store = a.store
	}
	a.tracker = jobs.NewTracker(store)
	a.events = presenter.New(presenter.NewEventBus(0), presenter.WithSink(func(ev presenter.Event) {
		printEvent(progress, ev)
	}))
	a.observer = jobs.MultiObserver{a.tracker, a.events}
	a.group = jobs.NewGroup(ctx)
	a.library = documents.NewLibrary(client)
	a.speech = tts.NewService(client, tts.Options{
		Interval:     cfg.Poll.TTSInterval,
		MaxWait:      cfg.Poll.MaxWait,
		Observer:     a.observer,
		DefaultVoice: cfg.TTS.DefaultVoice,
	})
	a.chat = chat.NewConversation(client)
	return a, nil
}

func openHistory(ctx context.Context, cfg *config.Config) (historyStore, error) {
	if cfg.UseRedis() {
		store, err := persistence.NewRedisStore(ctx, persistence.RedisOptions{
			Addr:     cfg.History.RedisAddr,
			Password: cfg.History.RedisPassword,
			DB:       cfg.History.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis history: %w", err)
		}
		log.Debug("Job history in redis at %s", cfg.History.RedisAddr)
		return store, nil
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open job history: %w", err)
	}
	log.Debug("Job history in %s", cfg.DBPath())
	return store, nil
}

func (a *app) uploadOptions() documents.UploadOptions {
	return documents.UploadOptions{
		Interval: a.cfg.Poll.DocumentInterval,
		MaxWait:  a.cfg.Poll.MaxWait,
		Observer: a.observer,
	}
}

// resumeUnfinished restarts polling for jobs a previous process left running.
func (a *app) resumeUnfinished() []*jobs.Handle {
	var handles []*jobs.Handle
	for _, job := range a.tracker.Unfinished() {
		var (
			h   *jobs.Handle
			err error
		)
		switch job.Kind {
		case jobs.KindDocumentIngest:
			h, err = a.library.ResumeIngest(a.group, *job, a.uploadOptions())
		default:
			h, err = a.speech.Resume(a.group, *job)
		}
		if err != nil {
			log.Warn("Could not resume %s job %s: %v", job.Kind, job.ID, err)
			continue
		}
		log.Info("Resumed %s job %s", job.Kind, job.ID)
		handles = append(handles, h)
	}
	return handles
}

func (a *app) pruneHistory(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-a.cfg.History.Retention)
	removed, err := a.tracker.Prune(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("prune history: %w", err)
	}
	if len(removed) > 0 {
		log.Info("Pruned %d finished jobs older than %s", len(removed), cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func (a *app) close() {
	a.group.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn("Failed to close job history: %v", err)
		}
	}
}

func printEvent(w io.Writer, ev presenter.Event) {
	line := fmt.Sprintf("[%s] %s", presenter.KindLabel(ev.Kind), ev.JobID)
	if ev.Label != "" {
		line += " (" + ev.Label + ")"
	}
	switch ev.Type {
	case presenter.EventTypeArtifact:
		line += ": ready"
		if ev.ResultRef != "" {
			line += " -> " + ev.ResultRef
		}
	case presenter.EventTypeFailure:
		line += ": failed: " + ev.Message
	case presenter.EventTypeWarning:
		line += ": warning: " + ev.Message
	default:
		line += ": " + ev.Message
	}
	fmt.Fprintln(w, line)
}

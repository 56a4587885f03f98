package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/stories-now/internal/httpapi"
	"github.com/MimeLyc/stories-now/pkg/icron"
	"github.com/MimeLyc/stories-now/pkg/log"
)

const shutdownTimeout = 5 * time.Second

type cronEngine interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func cmdServe(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("serve", c)
	addr := fs.String("addr", "", "listen address (default $SERVE_ADDR)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *addr != "" {
		c.cfg.System.ServeAddr = *addr
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpapi.NewServer(a.tracker, a.events.Bus(),
		httpapi.WithDocuments(a.library),
		httpapi.WithCanceller(a.group),
		httpapi.WithUI(c.cfg.System.UIStaticDir, c.cfg.System.UIStaticDir != ""),
	)
	return runWithComponents(ctx, a, cron.New(), srv)
}

// runWithComponents resumes unfinished jobs, schedules history pruning and serves
// the presenter API until ctx ends. All pollers are stopped before it returns.
func runWithComponents(ctx context.Context, a *app, cronEngine cronEngine, httpSrv httpServer) error {
	defer a.group.Close()

	resumed := a.resumeUnfinished()
	if len(resumed) > 0 {
		log.Info("Resumed %d unfinished jobs", len(resumed))
	}

	pruneSpec := a.cfg.History.PruneCron
	if _, err := cronEngine.AddFunc(pruneSpec, func() {
		if _, err := a.pruneHistory(ctx); err != nil {
			log.Error("%v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule history prune: %w", err)
	}
	if info, err := icron.GetTriggerInfo(pruneSpec, time.Now()); err == nil {
		log.Info("Next history prune at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	}
	cronEngine.Start()
	defer cronEngine.Stop()

	if a.session.LoggedIn() {
		go func() {
			err := a.library.Watch(ctx, a.cfg.Poll.DocumentInterval, nil)
			if err != nil && ctx.Err() == nil {
				log.Warn("Document refresh stopped: %v", err)
			}
		}()
	}

	addr := a.cfg.System.ServeAddr
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe(addr)
	}()
	log.Info("Serving job events on http://%s", addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

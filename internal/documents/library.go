package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/stories-now/internal/backend"
	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/pkg/log"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentNotReady  = errors.New("document is not processed yet")
	ErrChapterOutOfRange = errors.New("chapter index out of range")
)

type (
	Document = backend.Document
	Chapter  = backend.Chapter
)

// API is the part of the backend the library needs.
type API interface {
	ListDocuments(ctx context.Context) ([]backend.Document, error)
	UploadDocument(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Library is the client-local, read-only cache of the user's documents.
// Only its own fetch and polling logic writes to it.
type Library struct {
	api   API
	clock jobs.Clock
	group singleflight.Group

	mu        sync.RWMutex
	docs      []Document
	fetchedAt time.Time
}

type Option func(*Library)

func WithClock(c jobs.Clock) Option {
	return func(l *Library) { l.clock = c }
}

func NewLibrary(api API, opts ...Option) *Library {
	l := &Library{api: api, clock: jobs.RealClock}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Refresh re-fetches the list. Concurrent callers share one request, which runs
// detached from any single caller's ctx; each caller still stops waiting when its own ctx ends.
// The request stays bounded by the HTTP client timeout.
func (l *Library) Refresh(ctx context.Context) ([]Document, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("documents", func() (any, error) {
		docs, err := l.api.ListDocuments(fetchCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.docs = docs
		l.fetchedAt = l.clock.Now()
		l.mu.Unlock()
		return docs, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("refresh documents: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("refresh documents: %w", res.Err)
	}
	if res.Shared {
		log.Debug("Document refresh shared with a concurrent caller")
	}
	return cloneDocs(res.Val.([]Document)), nil
}

// Documents returns the cached list, newest first as the backend sorts it.
func (l *Library) Documents() []Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneDocs(l.docs)
}

// FetchedAt is zero until the first successful refresh.
func (l *Library) FetchedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fetchedAt
}

func (l *Library) Get(id string) (Document, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, d := range l.docs {
		if d.ID == id {
			return cloneDoc(d), true
		}
	}
	return Document{}, false
}

// Processing lists the ids of cached documents still being ingested.
func (l *Library) Processing() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0)
	for _, d := range l.docs {
		if d.Status == backend.DocumentProcessing {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Chapter returns the chapter at index of a processed document.
func (l *Library) Chapter(docID string, index int) (Chapter, error) {
	doc, ok := l.Get(docID)
	if !ok {
		return Chapter{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if doc.Status != backend.DocumentCompleted {
		return Chapter{}, fmt.Errorf("%w: %s is %s", ErrDocumentNotReady, docID, doc.Status)
	}
	if index < 0 || index >= len(doc.Chapters) {
		return Chapter{}, fmt.Errorf("%w: %d not in [0, %d)", ErrChapterOutOfRange, index, len(doc.Chapters))
	}
	return doc.Chapters[index], nil
}

// Watch refreshes once, then keeps refreshing every interval while any cached
// document is processing. It returns nil once none remain, or ctx's error.
// onChange, if set, receives every successfully fetched list.
func (l *Library) Watch(ctx context.Context, interval time.Duration, onChange func([]Document)) error {
	if interval <= 0 {
		interval = jobs.DefaultInterval
	}
	docs, err := l.Refresh(ctx)
	if err != nil {
		return err
	}
	if onChange != nil {
		onChange(docs)
	}
	if len(l.Processing()) == 0 {
		return nil
	}

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		docs, err := l.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Document refresh failed, retrying: %v", err)
			continue
		}
		if onChange != nil {
			onChange(docs)
		}
		if len(l.Processing()) == 0 {
			log.Debug("No documents processing, stopping refresh")
			return nil
		}
	}
}

// UploadOptions tunes the ingest job started by Upload.
type UploadOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
	Observer jobs.Observer
}

// Upload sends the file and tracks its ingest as a job whose ResultRef is the document id.
func (l *Library) Upload(group *jobs.Group, filename string, r io.Reader, opts UploadOptions) (*jobs.Handle, error) {
	name := filepath.Base(filename)
	return group.Start(jobs.Spec{
		Kind:  jobs.KindDocumentIngest,
		Label: name,
		Submit: func(ctx context.Context) (string, error) {
			id, err := l.api.UploadDocument(ctx, filename, r)
			if err != nil {
				return "", err
			}
			l.remember(Document{ID: id, Filename: name, Status: backend.DocumentProcessing})
			return id, nil
		},
		Status:   l.ingestStatus,
		Interval: opts.Interval,
		MaxWait:  opts.MaxWait,
		Clock:    l.clock,
		Observer: opts.Observer,
		Fatal:    backend.IsAuthError,
	})
}

// ResumeIngest polls an ingest submitted by an earlier process.
func (l *Library) ResumeIngest(group *jobs.Group, job jobs.Job, opts UploadOptions) (*jobs.Handle, error) {
	return group.Start(jobs.Spec{
		Kind:     jobs.KindDocumentIngest,
		Label:    job.Label,
		JobID:    job.ID,
		Status:   l.ingestStatus,
		Interval: opts.Interval,
		MaxWait:  opts.MaxWait,
		Clock:    l.clock,
		Observer: opts.Observer,
		Fatal:    backend.IsAuthError,
	})
}

func (l *Library) ingestStatus(ctx context.Context, docID string) (jobs.Report, error) {
	if _, err := l.Refresh(ctx); err != nil {
		return jobs.Report{}, err
	}
	doc, ok := l.Get(docID)
	if !ok {
		return jobs.Report{Status: jobs.StatusPending}, nil
	}
	switch doc.Status {
	case backend.DocumentCompleted:
		return jobs.Report{Status: jobs.StatusCompleted, ResultRef: doc.ID}, nil
	case backend.DocumentFailed:
		msg := doc.Error
		if msg == "" {
			msg = "document processing failed"
		}
		return jobs.Report{Status: jobs.StatusFailed, Error: msg}, nil
	default:
		return jobs.Report{Status: jobs.StatusProcessing}, nil
	}
}

// remember puts a just-uploaded document at the head of the cache until the next refresh lists it.
func (l *Library) remember(doc Document) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range l.docs {
		if d.ID == doc.ID {
			return
		}
	}
	l.docs = append([]Document{doc}, l.docs...)
}

func cloneDoc(d Document) Document {
	if d.Chapters != nil {
		d.Chapters = append([]Chapter(nil), d.Chapters...)
	}
	return d
}

func cloneDocs(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, cloneDoc(d))
	}
	return out
}

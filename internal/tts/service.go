package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/stories-now/internal/backend"
	"github.com/MimeLyc/stories-now/internal/documents"
	"github.com/MimeLyc/stories-now/internal/jobs"
)

// ErrEmptyText is returned for blank text; nothing is submitted.
var ErrEmptyText = errors.New("text is required")

const labelRunes = 48

// API is the speech part of the backend.
type API interface {
	SubmitText(ctx context.Context, text, voice string) (string, error)
	SubmitDocumentChunk(ctx context.Context, docID string, chunkID int) (string, error)
	ConvertChapter(ctx context.Context, docID string, chapterIndex int, voice string) (string, error)
	TaskStatus(ctx context.Context, taskID string) (backend.TaskStatus, error)
	DownloadAudio(ctx context.Context, fileID string, w io.Writer) (int64, error)
}

// Chapters validates chapter selection against the cached document list.
type Chapters interface {
	Get(id string) (documents.Document, bool)
	Chapter(docID string, index int) (documents.Chapter, error)
}

type Options struct {
	Interval time.Duration
	MaxWait  time.Duration
	Clock    jobs.Clock
	Observer jobs.Observer
	// DefaultVoice is sent when the language of the text is not recognised. Empty leaves it to the backend.
	DefaultVoice string
}

// Service starts speech jobs. Each one is a plain submit-then-poll task.
type Service struct {
	api  API
	opts Options
}

func NewService(api API, opts Options) *Service {
	return &Service{api: api, opts: opts}
}

// SpeakText converts free text. The job's ResultRef is the audio file id.
func (s *Service) SpeakText(group *jobs.Group, text string) (*jobs.Handle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	voice := PickVoice(text, s.opts.DefaultVoice)
	return group.Start(s.spec(jobs.KindTextToSpeech, excerpt(text), func(ctx context.Context) (string, error) {
		return s.api.SubmitText(ctx, text, voice)
	}))
}

// SpeakChapter converts one chapter of a processed document.
func (s *Service) SpeakChapter(group *jobs.Group, chapters Chapters, docID string, index int) (*jobs.Handle, error) {
	ch, err := chapters.Chapter(docID, index)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("chapter %d", index+1)
	if ch.Title != "" {
		label = ch.Title
	}
	if doc, ok := chapters.Get(docID); ok && doc.Filename != "" {
		label = doc.Filename + ": " + label
	}
	voice := PickVoice(ch.Content, s.opts.DefaultVoice)
	return group.Start(s.spec(jobs.KindChapterToSpeech, label, func(ctx context.Context) (string, error) {
		return s.api.ConvertChapter(ctx, docID, index, voice)
	}))
}

// SpeakChunk converts one stored chunk of a document.
func (s *Service) SpeakChunk(group *jobs.Group, docID string, chunkID int) (*jobs.Handle, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if chunkID < 0 {
		return nil, fmt.Errorf("chunk id must not be negative")
	}
	label := fmt.Sprintf("%s #%d", docID, chunkID)
	return group.Start(s.spec(jobs.KindChunkToSpeech, label, func(ctx context.Context) (string, error) {
		return s.api.SubmitDocumentChunk(ctx, docID, chunkID)
	}))
}

// Resume polls a speech job submitted by an earlier process.
func (s *Service) Resume(group *jobs.Group, job jobs.Job) (*jobs.Handle, error) {
	spec := s.spec(job.Kind, job.Label, nil)
	spec.JobID = job.ID
	return group.Start(spec)
}

// Fetch streams a finished job's audio into w.
func (s *Service) Fetch(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	return s.api.DownloadAudio(ctx, fileID, w)
}

func (s *Service) spec(kind jobs.Kind, label string, submit jobs.SubmitFunc) jobs.Spec {
	return jobs.Spec{
		Kind:     kind,
		Label:    label,
		Submit:   submit,
		Status:   s.status,
		Interval: s.opts.Interval,
		MaxWait:  s.opts.MaxWait,
		Clock:    s.opts.Clock,
		Observer: s.opts.Observer,
		Fatal:    backend.IsAuthError,
	}
}

func (s *Service) status(ctx context.Context, taskID string) (jobs.Report, error) {
	st, err := s.api.TaskStatus(ctx, taskID)
	if err != nil {
		return jobs.Report{}, err
	}
	status, ok := jobs.ParseStatus(st.Status)
	if !ok {
		return jobs.Report{}, fmt.Errorf("unknown task status %q", st.Status)
	}
	switch status {
	case jobs.StatusCompleted:
		if st.FileID == "" {
			return jobs.Report{Status: jobs.StatusFailed, Error: "task completed without an audio file"}, nil
		}
		return jobs.Report{Status: status, ResultRef: st.FileID}, nil
	case jobs.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = "speech conversion failed"
		}
		return jobs.Report{Status: status, Error: msg}, nil
	default:
		return jobs.Report{Status: status}, nil
	}
}

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= labelRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:labelRunes-1]) + "…"
}

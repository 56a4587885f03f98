package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when the backend rejects the token. The session is cleared first.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotPDF is returned by UploadDocument for files the gateway would refuse.
	ErrNotPDF = errors.New("only PDF files are allowed")
)

// APIError is an application-level or HTTP failure reported by the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Document status values as written by the PDF processor.
const (
	DocumentProcessing = "processing"
	DocumentCompleted  = "completed"
	DocumentFailed     = "failed"
)

type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Document struct {
	ID        string    `json:"_id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Chapters  []Chapter `json:"chapters,omitempty"`
	CreatedAt string    `json:"created_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Created parses the creation timestamp. The gateway writes naive UTC ISO strings.
func (d Document) Created() (time.Time, bool) {
	raw := strings.TrimSpace(d.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// TaskStatus is the answer of GET /tts/status/{task_id}.
type TaskStatus struct {
	Status string
	FileID string
	Error  string
}

// envelope is the common {success, error|errors} wrapper.
type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

func (e envelope) message() string {
	if msg := flattenMessage(e.Error); msg != "" {
		return msg
	}
	return flattenMessage(e.Errors)
}

// flattenMessage accepts a string, a list or an object of messages.
func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
		parts := make([]string, 0, len(obj))
		for k, v := range obj {
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
		return strings.Join(parts, "; ")
	}
	return strings.TrimSpace(string(raw))
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	envelope
	Token string `json:"token"`
}

type documentsResponse struct {
	envelope
	Documents []Document `json:"documents"`
}

type uploadResponse struct {
	envelope
	DocumentID string `json:"document_id"`
}

type chatRequest struct {
	Message string   `json:"message"`
	DocIDs  []string `json:"doc_ids"`
}

type chatResponse struct {
	envelope
	Response string `json:"response"`
}

type ttsSubmitRequest struct {
	Text    string `json:"text,omitempty"`
	Voice   string `json:"voice,omitempty"`
	DocID   string `json:"doc_id,omitempty"`
	ChunkID *int   `json:"chunk_id,omitempty"`
}

type convertChapterRequest struct {
	DocID        string `json:"doc_id"`
	ChapterIndex int    `json:"chapter_index"`
	Voice        string `json:"voice,omitempty"`
}

type taskResponse struct {
	envelope
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	envelope
	Status string `json:"status"`
	FileID string `json:"file_id"`
}

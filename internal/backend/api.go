package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/stories-now/pkg/log"
)

// Login exchanges credentials for a token and stores it in the session.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", fmt.Errorf("email and password are required")
	}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/login", credentials{Email: email, Password: password}, &resp, false); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "login response carried no token"}
	}
	if err := c.session.Set(resp.Token, email); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	log.Info("Logged in as %s", email)
	return resp.Token, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("email and password are required")
	}
	var resp envelope
	return c.doJSON(ctx, http.MethodPost, "/register", credentials{Email: email, Password: password}, &resp, false)
}

// Logout forgets the token. The gateway keeps no server-side session.
func (c *Client) Logout() error {
	return c.session.Clear()
}

func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var resp documentsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/documents", nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.Documents == nil {
		return []Document{}, nil
	}
	return resp.Documents, nil
}

// UploadDocument sends a PDF as multipart field "file" and returns the new document id.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", fmt.Errorf("%w: %s", ErrNotPDF, filename)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/documents/upload", &buf, true)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.roundTrip(req, &resp, true); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.DocumentID) == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "upload response carried no document_id"}
	}
	return resp.DocumentID, nil
}

// Chat sends one message grounded on docIDs and returns the reply text.
func (c *Client) Chat(ctx context.Context, message string, docIDs []string) (string, error) {
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat", chatRequest{Message: message, DocIDs: docIDs}, &resp, true); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// SubmitText queues free text for speech. voice may be empty.
func (c *Client) SubmitText(ctx context.Context, text, voice string) (string, error) {
	return c.submitTask(ctx, "/tts/submit", ttsSubmitRequest{Text: text, Voice: voice})
}

// SubmitDocumentChunk queues one stored chunk of a document for speech.
func (c *Client) SubmitDocumentChunk(ctx context.Context, docID string, chunkID int) (string, error) {
	return c.submitTask(ctx, "/tts/submit", ttsSubmitRequest{DocID: docID, ChunkID: &chunkID})
}

// ConvertChapter queues one chapter of a processed document for speech.
func (c *Client) ConvertChapter(ctx context.Context, docID string, chapterIndex int, voice string) (string, error) {
	return c.submitTask(ctx, "/tts/convert-chapter", convertChapterRequest{DocID: docID, ChapterIndex: chapterIndex, Voice: voice})
}

func (c *Client) submitTask(ctx context.Context, path string, payload any) (string, error) {
	var resp taskResponse
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &resp, true); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.TaskID) == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "submit response carried no task_id"}
	}
	return resp.TaskID, nil
}

// TaskStatus reads a speech task's status. A body naming a status is trusted
// even on an error code, since the gateway reports failures as 500 {"status":"failed"}.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tts/status/"+url.PathEscape(taskID), nil, true)
	if err != nil {
		return TaskStatus{}, err
	}
	resp, err := c.send(req)
	if err != nil {
		return TaskStatus{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var body statusResponse
	decodeErr := json.Unmarshal(raw, &body)
	if resp.StatusCode == http.StatusUnauthorized {
		msg := ""
		if decodeErr == nil {
			msg = body.message()
		}
		return TaskStatus{}, c.unauthorized(msg)
	}
	if decodeErr == nil && strings.TrimSpace(body.Status) != "" {
		return TaskStatus{Status: body.Status, FileID: body.FileID, Error: body.message()}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && body.message() != "" {
			msg = body.message()
		}
		return TaskStatus{}, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return TaskStatus{}, fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	return TaskStatus{}, &APIError{StatusCode: resp.StatusCode, Message: "status response carried no status"}
}

// DownloadAudio streams the audio file into w and returns the bytes written.
func (c *Client) DownloadAudio(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	if strings.TrimSpace(fileID) == "" {
		return 0, fmt.Errorf("file id is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/tts/audio/"+url.PathEscape(fileID), nil, true)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "audio/*")

	resp, err := c.send(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, c.errorFromBody(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to stream audio: %w", err)
	}
	return n, nil
}

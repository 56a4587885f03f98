// Package backendtest runs an in-process fake of the stories-now gateway.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/MimeLyc/stories-now/internal/backend"
)

// Reply is one scripted answer of the status endpoint.
type Reply struct {
	Code   int
	Status string
	FileID string
}

// Server mimics the gateway routes with in-memory state.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]string
	token     string
	documents []backend.Document
	script    []Reply
	tasks     map[string][]Reply
	polls     map[string]int
	submits   []map[string]any
	audio     map[string][]byte
	hits      map[string]int
	nextID    int
	chatReply func(message string, docIDs []string) string
}

func NewServer() *Server {
	s := &Server{
		users: map[string]string{"reader@example.com": "secret"},
		token: "test-token",
		tasks: make(map[string][]Reply),
		polls: make(map[string]int),
		audio: make(map[string][]byte),
		hits:  make(map[string]int),
		chatReply: func(message string, _ []string) string {
			return "echo: " + message
		},
	}

	r := mux.NewRouter()
	r.Use(s.count)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/documents", s.handleDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/tts/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/tts/convert-chapter", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/tts/status/{task_id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/tts/audio/{file_id}", s.handleAudio).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// Token is the bearer token handed out at login.
func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RevokeToken makes every further protected call answer 401.
func (s *Server) RevokeToken() {
	s.mu.Lock()
	s.token = "revoked-" + s.token
	s.mu.Unlock()
}

// AddDocument stores doc as if it had been uploaded earlier.
func (s *Server) AddDocument(doc backend.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, doc)
}

// SetDocumentStatus moves a stored document to status, optionally with chapters.
func (s *Server) SetDocumentStatus(id, status string, chapters []backend.Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.documents {
		if s.documents[i].ID == id {
			s.documents[i].Status = status
			if chapters != nil {
				s.documents[i].Chapters = chapters
			}
		}
	}
}

// ScriptTasks sets the status replies for tasks submitted from now on.
// The last reply repeats once the script runs out.
func (s *Server) ScriptTasks(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = replies
}

func (s *Server) SetAudio(fileID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio[fileID] = data
}

func (s *Server) SetChatReply(fn func(message string, docIDs []string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatReply = fn
}

// Polls reports how many status requests hit taskID.
func (s *Server) Polls(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[taskID]
}

// Hits reports how many requests reached path, whatever their outcome.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Submissions returns the decoded bodies of every TTS submission.
func (s *Server) Submissions() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.submits))
	copy(out, s.submits)
	return out
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if strings.HasPrefix(path, "/tts/status/") {
			path = "/tts/status"
		}
		s.mu.Lock()
		s.hits[path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "errors": "No token provided"})
			return
		}
		if strings.TrimPrefix(header, "Bearer ") != s.Token() {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "errors": "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": "Email and password required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "errors": "User already exists"})
		return
	}
	s.users[req.Email] = req.Password
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": "Invalid request"})
		return
	}
	s.mu.Lock()
	password, ok := s.users[req.Email]
	token := s.token
	s.mu.Unlock()
	if !ok || password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "errors": []string{"Invalid credentials"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (s *Server) handleDocuments(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	docs := make([]backend.Document, len(s.documents))
	copy(docs, s.documents)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "documents": docs})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "No file provided"})
		return
	}
	defer file.Close()
	if !strings.HasSuffix(header.Filename, ".pdf") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Only PDF files are allowed"})
		return
	}
	_, _ = io.Copy(io.Discard, file)

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("doc-%d", s.nextID)
	s.documents = append([]backend.Document{{ID: id, Filename: header.Filename, Status: backend.DocumentProcessing}}, s.documents...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document_id": id, "status": "processing"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		DocIDs  []string `json:"doc_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid request"})
		return
	}
	s.mu.Lock()
	reply := s.chatReply
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": reply(req.Message, req.DocIDs)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid request"})
		return
	}
	if text, ok := body["text"].(string); ok && strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "No text provided"})
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	s.tasks[id] = append([]Reply(nil), s.script...)
	s.submits = append(s.submits, body)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task_id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["task_id"]

	s.mu.Lock()
	replies, ok := s.tasks[id]
	n := s.polls[id]
	s.polls[id] = n + 1
	s.mu.Unlock()

	if !ok || len(replies) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "processing"})
		return
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	reply := replies[n]
	code := reply.Code
	if code == 0 {
		code = http.StatusOK
	}
	body := map[string]any{}
	if reply.Status != "" {
		body["status"] = reply.Status
	} else {
		body["success"] = false
		body["error"] = "temporarily unavailable"
	}
	if reply.FileID != "" {
		body["file_id"] = reply.FileID
	}
	writeJSON(w, code, body)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["file_id"]
	s.mu.Lock()
	data, ok := s.audio[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to retrieve audio"})
		return
	}
	w.Header().Set("Content-Type", "audio/mp3")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

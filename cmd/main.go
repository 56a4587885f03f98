package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/MimeLyc/stories-now/internal/backend"
	"github.com/MimeLyc/stories-now/internal/config"
	"github.com/MimeLyc/stories-now/internal/session"
	"github.com/MimeLyc/stories-now/pkg/log"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitNotLoggedIn = 3
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli is what every subcommand gets: the resolved config and the process streams.
type cli struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"register": {"create an account", cmdRegister},
	"login":    {"log in and remember the session", cmdLogin},
	"logout":   {"forget the session", cmdLogout},
	"docs":     {"list documents, or the chapters of one", cmdDocs},
	"upload":   {"upload a PDF and track its processing", cmdUpload},
	"chat":     {"ask questions about documents", cmdChat},
	"say":      {"convert text to speech", cmdSay},
	"chapter":  {"convert a document chapter to speech", cmdChapter},
	"chunk":    {"convert a document chunk to speech", cmdChunk},
	"fetch":    {"download the audio of a finished job", cmdFetch},
	"history":  {"show or prune the job history", cmdHistory},
	"resume":   {"resume polling unfinished jobs", cmdResume},
	"serve":    {"serve job events to local UIs", cmdServe},
}

// usageError makes run exit with the usage status.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// lockedWriter serialises progress lines written by concurrent pollers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	stderr = &lockedWriter{w: stderr}
	fs := flag.NewFlagSet("stories", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "dotenv file to load, empty to skip")
	apiURL := fs.String("api", "", "backend base URL (overrides STORIES_API_URL)")
	sessionFile := fs.String("session", "", "session file (overrides STORIES_SESSION_FILE)")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		fs.Usage()
		return exitUsage
	}

	if *envFile != "" {
		if err := config.LoadDotEnv(*envFile); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitError
		}
	}
	cfg, err := config.NewFromEnv(config.WithAPIURL(*apiURL), config.WithSessionFile(*sessionFile))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	restore, err := setupLogging(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	defer restore()

	err = cmd.run(ctx, &cli{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}, rest[1:])
	return exitCode(err, stderr)
}

// setupLogging installs the process logger and returns a func that puts the previous one back.
func setupLogging(cfg *config.Config, stderr io.Writer) (func(), error) {
	prev := log.GetLogger()
	level := log.ParseLevel(cfg.System.LogLevel)

	if cfg.System.LogFile == "" {
		log.SetLogger(log.NewWriterLogger(stderr, level))
		return func() { log.SetLogger(prev) }, nil
	}

	fileLogger, err := log.NewFileLogger(cfg.System.LogFile, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fileLogger.Logger)
	return func() {
		log.SetLogger(prev)
		_ = fileLogger.Close()
	}, nil
}

func exitCode(err error, stderr io.Writer) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "usage: %s\n", usage.msg)
		return exitUsage
	case errors.Is(err, session.ErrNotLoggedIn), errors.Is(err, backend.ErrUnauthorized):
		fmt.Fprintf(stderr, "error: %v (run `stories login`)\n", err)
		return exitNotLoggedIn
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: stories [global flags] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fs.PrintDefaults()
}

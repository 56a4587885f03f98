package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MimeLyc/stories-now/internal/backend"
	"github.com/MimeLyc/stories-now/internal/chat"
	"github.com/MimeLyc/stories-now/internal/documents"
	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/presenter"
	"github.com/MimeLyc/stories-now/pkg/file"
)

func newFlagSet(name string, c *cli) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{msg: fmt.Sprintf("%s: %v", fs.Name(), err)}
	}
	return nil
}

// stringsFlag collects a repeatable flag.
type stringsFlag []string

func (s *stringsFlag) String() string { return strings.Join(*s, ",") }

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func credentialFlags(fs *flag.FlagSet) (email, password *string) {
	email = fs.String("email", "", "account email")
	password = fs.String("password", "", "account password (default $STORIES_PASSWORD)")
	return email, password
}

func passwordOrEnv(p string) string {
	if p != "" {
		return p
	}
	return os.Getenv("STORIES_PASSWORD")
}

func cmdRegister(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("register", c)
	email, password := credentialFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.client.Register(ctx, *email, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Registered %s. Log in with `stories login`.\n", strings.TrimSpace(*email))
	return nil
}

func cmdLogin(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("login", c)
	email, password := credentialFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.client.Login(ctx, *email, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Logged in as %s\n", a.session.Email())
	return nil
}

func cmdLogout(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("logout", c)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.client.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "Logged out")
	return nil
}

func cmdDocs(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("docs", c)
	watch := fs.Bool("watch", false, "keep refreshing while documents are processing")
	docID := fs.String("doc", "", "show the chapters of this document")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	if *docID != "" {
		if _, err := a.library.Refresh(ctx); err != nil {
			return err
		}
		doc, ok := a.library.Get(*docID)
		if !ok {
			return fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, *docID)
		}
		printChapters(c.stdout, doc)
		return nil
	}

	if !*watch {
		docs, err := a.library.Refresh(ctx)
		if err != nil {
			return err
		}
		printDocuments(c.stdout, docs)
		return nil
	}

	var last string
	return a.library.Watch(ctx, c.cfg.Poll.DocumentInterval, func(docs []documents.Document) {
		var b strings.Builder
		printDocuments(&b, docs)
		if b.String() == last {
			return
		}
		last = b.String()
		fmt.Fprintln(c.stdout, last)
	})
}

func printDocuments(w io.Writer, docs []documents.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents yet. Upload one with `stories upload file.pdf`.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tCHAPTERS\tCREATED")
	for _, d := range docs {
		created := "-"
		if t, ok := d.Created(); ok {
			created = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.Status, len(d.Chapters), created)
	}
	_ = tw.Flush()
}

func printChapters(w io.Writer, doc documents.Document) {
	fmt.Fprintf(w, "%s (%s)\n", doc.Filename, doc.Status)
	if doc.Status == backend.DocumentFailed && doc.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", doc.Error)
	}
	for i, ch := range doc.Chapters {
		fmt.Fprintf(w, "  [%d] %s\n", i, ch.Title)
	}
}

func cmdUpload(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("upload", c)
	wait := fs.Bool("wait", false, "wait until processing finishes")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{msg: "stories upload [-wait] <file.pdf>"}
	}
	path := fs.Arg(0)

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := a.library.Upload(a.group, path, f, a.uploadOptions())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, h.JobID())
	if !*wait {
		return nil
	}

	if _, err := h.Wait(ctx); err != nil {
		return err
	}
	if _, err := a.library.Refresh(ctx); err != nil {
		return err
	}
	if doc, ok := a.library.Get(h.JobID()); ok {
		printChapters(c.stdout, doc)
	}
	return nil
}

func cmdChat(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("chat", c)
	var docIDs stringsFlag
	fs.Var(&docIDs, "doc", "document to ground the answer on (repeatable, default all processed)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	selection := chat.NewSelection()
	for _, id := range docIDs {
		if !contains(selection.Selected(), id) {
			selection.Toggle(id)
		}
	}
	if len(selection.Selected()) == 0 {
		docs, err := a.library.Refresh(ctx)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if d.Status == backend.DocumentCompleted {
				selection.Toggle(d.ID)
			}
		}
	}
	if len(selection.Selected()) == 0 {
		return errors.New("no processed documents to chat about")
	}

	ask := func(text string) error {
		msg, err := a.chat.Send(ctx, text, selection.Selected())
		if errors.Is(err, chat.ErrNothingToSend) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, msg.Content)
		return nil
	}

	if fs.NArg() > 0 {
		return ask(strings.Join(fs.Args(), " "))
	}

	// Interactive: one question per line until EOF.
	scanner := bufio.NewScanner(c.stdin)
	for scanner.Scan() {
		if err := ask(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// speechFlags are shared by the commands that produce audio.
type speechFlags struct {
	out    *string
	detach *bool
}

func addSpeechFlags(fs *flag.FlagSet) speechFlags {
	return speechFlags{
		out:    fs.String("out", "", "where to save the audio"),
		detach: fs.Bool("detach", false, "print the job id and leave it for `stories resume`"),
	}
}

// finish waits for a speech job and saves its audio, unless the job is detached.
func (s speechFlags) finish(ctx context.Context, c *cli, a *app, h *jobs.Handle, defaultName string) error {
	fmt.Fprintln(c.stdout, h.JobID())
	if *s.detach {
		return nil
	}
	job, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	return saveAudio(ctx, c, a, job, outputPath(*s.out, defaultName))
}

func outputPath(out, defaultName string) string {
	if out == "" {
		out = defaultName
	}
	if filepath.Ext(out) == "" {
		out = file.ReplaceExt(out, "mp3")
	}
	return out
}

func saveAudio(ctx context.Context, c *cli, a *app, job jobs.Job, path string) error {
	if job.ResultRef == "" {
		return fmt.Errorf("%s job %s has no audio file", job.Kind, job.ID)
	}
	f, err := file.CreateAtomic(path)
	if err != nil {
		return err
	}
	n, err := a.speech.Fetch(ctx, job.ResultRef, f)
	if err != nil {
		f.Abort()
		return err
	}
	if err := f.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Saved %s (%d bytes)\n", path, n)
	return nil
}

func cmdSay(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("say", c)
	sf := addSpeechFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return usageError{msg: "stories say [-out file] [-detach] <text>"}
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	h, err := a.speech.SpeakText(a.group, text)
	if err != nil {
		return err
	}
	return sf.finish(ctx, c, a, h, h.JobID()+".mp3")
}

func cmdChapter(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("chapter", c)
	docID := fs.String("doc", "", "document id")
	index := fs.Int("index", 0, "chapter index as listed by `stories docs -doc`")
	sf := addSpeechFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *docID == "" {
		return usageError{msg: "stories chapter -doc <id> [-index n] [-out file] [-detach]"}
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.library.Refresh(ctx); err != nil {
		return err
	}
	h, err := a.speech.SpeakChapter(a.group, a.library, *docID, *index)
	if err != nil {
		return err
	}
	return sf.finish(ctx, c, a, h, file.SafeName(h.Job().Label)+".mp3")
}

func cmdChunk(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("chunk", c)
	docID := fs.String("doc", "", "document id")
	chunkID := fs.Int("chunk", 0, "chunk id")
	sf := addSpeechFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *docID == "" {
		return usageError{msg: "stories chunk -doc <id> [-chunk n] [-out file] [-detach]"}
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	h, err := a.speech.SpeakChunk(a.group, *docID, *chunkID)
	if err != nil {
		return err
	}
	return sf.finish(ctx, c, a, h, fmt.Sprintf("%s-chunk-%d.mp3", file.SafeName(*docID), *chunkID))
}

func cmdFetch(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("fetch", c)
	out := fs.String("out", "", "where to save the audio")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{msg: "stories fetch [-out file] <job-id>"}
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	job, ok := a.tracker.Get(fs.Arg(0))
	if !ok {
		return fmt.Errorf("unknown job %s", fs.Arg(0))
	}
	if job.Kind == jobs.KindDocumentIngest {
		return fmt.Errorf("job %s is a document upload, not speech", job.ID)
	}
	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s is %s", job.ID, presenter.Label(job.Status))
	}
	return saveAudio(ctx, c, a, *job, outputPath(*out, job.ID+".mp3"))
}

func cmdHistory(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("history", c)
	prune := fs.Bool("prune", false, "drop finished jobs older than HISTORY_RETENTION")
	active := fs.Bool("active", false, "only show unfinished jobs")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	if *prune {
		removed, err := a.pruneHistory(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Pruned %d jobs\n", len(removed))
		return nil
	}

	list := a.tracker.List()
	if *active {
		list = a.tracker.Unfinished()
	}
	printJobs(c.stdout, list)
	return nil
}

func printJobs(w io.Writer, list []*jobs.Job) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tLABEL\tUPDATED\tRESULT")
	for _, j := range list {
		result := j.ResultRef
		if j.Status == jobs.StatusFailed {
			result = j.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, presenter.KindLabel(j.Kind), presenter.Label(j.Status), j.Label,
			j.UpdatedAt.Local().Format(time.DateTime), result)
	}
	_ = tw.Flush()
}

func cmdResume(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("resume", c)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.cfg, c.stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	handles := a.resumeUnfinished()
	if len(handles) == 0 {
		fmt.Fprintln(c.stdout, "Nothing to resume")
		return nil
	}

	failed := 0
	for _, h := range handles {
		job, err := h.Wait(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			failed++
		}
		fmt.Fprintf(c.stdout, "%s\t%s\n", job.ID, presenter.Label(job.Status))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d resumed jobs failed", failed, len(handles))
	}
	return nil
}

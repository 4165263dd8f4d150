package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// Transcriber converts an audio file to text. It is the fallback for items
// that publish no subtitles.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// CommandRunner executes an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// yt-dlp messages that mean the link will never yield content.
var unavailableMarkers = []string{
	"Unsupported URL",
	"Video unavailable",
	"Private video",
	"members-only",
	"This live event will begin",
	"Premieres in",
	"has been removed",
}

// YtDlpRetriever downloads subtitles with yt-dlp and, when the item has
// none, downloads the audio track and hands it to a Transcriber.
type YtDlpRetriever struct {
	binary      string
	langs       string
	workDir     string
	transcriber Transcriber
	run         CommandRunner
	logger      *zap.Logger
}

// YtDlpOption customizes the retriever.
type YtDlpOption func(*YtDlpRetriever)

// WithTranscriber enables the audio transcription fallback.
func WithTranscriber(t Transcriber) YtDlpOption {
	return func(r *YtDlpRetriever) { r.transcriber = t }
}

// WithCommandRunner replaces process execution (useful for tests).
func WithCommandRunner(run CommandRunner) YtDlpOption {
	return func(r *YtDlpRetriever) {
		if run != nil {
			r.run = run
		}
	}
}

func NewYtDlpRetriever(binary, langs, workDir string, logger *zap.Logger, opts ...YtDlpOption) *YtDlpRetriever {
	r := &YtDlpRetriever{
		binary:  binary,
		langs:   langs,
		workDir: workDir,
		run:     execCommand,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *YtDlpRetriever) Retrieve(ctx context.Context, link string) (Content, bool, error) {
	dir, err := os.MkdirTemp(r.workDir, "item-*")
	if err != nil {
		return Content{}, false, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	text, err := r.subtitles(ctx, link, dir)
	if err != nil {
		return Content{}, false, err
	}
	if text != "" {
		return Content{Text: text, Origin: "subtitles"}, true, nil
	}

	if r.transcriber == nil {
		return Content{}, false, nil
	}
	r.logger.Debug("no subtitles, transcribing audio", zap.String("link", link))

	audio, err := r.audio(ctx, link, dir)
	if err != nil {
		return Content{}, false, err
	}
	if audio == "" {
		return Content{}, false, nil
	}
	text, err = r.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return Content{}, false, fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Content{}, false, nil
	}
	return Content{Text: text, Origin: "transcription"}, true, nil
}

func (r *YtDlpRetriever) subtitles(ctx context.Context, link, dir string) (string, error) {
	args := []string{
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-format", "vtt/srt/best",
		"--no-playlist",
		"-o", filepath.Join(dir, "sub.%(ext)s"),
	}
	if r.langs != "" {
		args = append(args, "--sub-langs", r.langs)
	}
	args = append(args, "--", link)

	if err := r.exec(ctx, args); err != nil {
		return "", err
	}

	files := matchFiles(dir, "sub.*")
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext != ".vtt" && ext != ".srt" {
			continue
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read subtitles: %w", err)
		}
		if text := SubtitleText(string(raw)); text != "" {
			return text, nil
		}
	}
	return "", nil
}

func (r *YtDlpRetriever) audio(ctx context.Context, link, dir string) (string, error) {
	args := []string{
		"-f", "bestaudio/best",
		"-x", "--audio-format", "m4a",
		"--no-playlist",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		"--", link,
	}
	if err := r.exec(ctx, args); err != nil {
		return "", err
	}
	files := matchFiles(dir, "audio.*")
	if len(files) == 0 {
		return "", nil
	}
	return files[0], nil
}

func (r *YtDlpRetriever) exec(ctx context.Context, args []string) error {
	out, err := r.run(ctx, r.binary, args...)
	if err == nil {
		return nil
	}
	msg := string(out)
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", domain.ErrContentUnavailable, marker)
		}
	}
	return fmt.Errorf("yt-dlp: %w: %s", err, lastLine(msg))
}

func matchFiles(dir, pattern string) []string {
	files, _ := filepath.Glob(filepath.Join(dir, pattern))
	sort.Strings(files)
	return files
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// compile-time check that YtDlpRetriever implements Retriever
var _ Retriever = (*YtDlpRetriever)(nil)

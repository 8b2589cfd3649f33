// Package inbox decodes every file dropped into a watched folder, moving
// successes to processed/ and writing a JSON report per run.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpattn/tddf/internal/ingestion"
	"github.com/rpattn/tddf/internal/logger"
)

// Folder names under the inbox root.
const (
	InboxDir     = "inbox"
	ProcessedDir = "processed"
	LogsDir      = "logs"

	lockFileName     = "tddf-inbox.lock"
	claimedExtension = ".processing"
)

// uploadNamespace scopes content-derived upload ids.
var uploadNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tddf:inbox-upload"))

// FileDecoder is the decode entry point the processor drives.
type FileDecoder interface {
	DecodeFile(ctx context.Context, req ingestion.Request) (ingestion.Summary, error)
}

// FileStatus is the outcome for one inbox file.
type FileStatus string

const (
	StatusSuccess FileStatus = "success"
	StatusFailed  FileStatus = "failed"
	StatusSkipped FileStatus = "skipped"
)

// FileResult reports one file of a run.
type FileResult struct {
	Name         string             `json:"name"`
	Status       FileStatus         `json:"status"`
	ProcessedAs  string             `json:"processedAs,omitempty"`
	UploadID     string             `json:"uploadId,omitempty"`
	TotalLines   int                `json:"totalLines"`
	DecodedCount int                `json:"decodedCount"`
	ErrorCount   int                `json:"errorCount"`
	Duplicates   int64              `json:"duplicatesRemoved"`
	Months       []string           `json:"monthsInvalidated,omitempty"`
	Error        string             `json:"error,omitempty"`
	DurationMs   int64              `json:"durationMs"`
	Summary      *ingestion.Summary `json:"-"`
}

// Report is written to logs/ after every run.
type Report struct {
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt"`
	Successful  int          `json:"successful"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Files       []FileResult `json:"files"`
	ReportPath  string       `json:"-"`
}

// Processor runs the inbox workflow over a root folder.
type Processor struct {
	root           string
	decoder        FileDecoder
	lockStaleAfter time.Duration
	now            func() time.Time
}

// Option customizes a Processor.
type Option func(*Processor)

// WithLockStaleAfter overrides the lock staleness window.
func WithLockStaleAfter(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.lockStaleAfter = d
		}
	}
}

// WithClock overrides the processor clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates a processor rooted at root.
func NewProcessor(root string, decoder FileDecoder, opts ...Option) *Processor {
	p := &Processor{
		root:           root,
		decoder:        decoder,
		lockStaleAfter: DefaultLockStaleAfter,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureLayout creates the inbox, processed and logs folders.
func (p *Processor) EnsureLayout() error {
	for _, dir := range []string{InboxDir, ProcessedDir, LogsDir} {
		if err := os.MkdirAll(filepath.Join(p.root, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create %s folder: %w", dir, err)
		}
	}
	return nil
}

// Run processes every waiting file once. It returns ErrLocked when another
// instance is active. Per-file failures are reported, not returned.
func (p *Processor) Run(ctx context.Context) (Report, error) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]any{"inbox": p.root})
	ctx = logger.WithContext(ctx, log)

	report := Report{StartedAt: p.now(), Files: []FileResult{}}
	if p.decoder == nil {
		return report, errors.New("inbox decoder is required")
	}
	if err := p.EnsureLayout(); err != nil {
		return report, err
	}

	lock := newLock(filepath.Join(p.root, LogsDir, lockFileName), p.lockStaleAfter, p.now)
	replaced, err := lock.Acquire()
	if err != nil {
		return report, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release inbox lock")
		}
	}()
	if replaced != nil {
		log.Warn().Int("pid", replaced.PID).Str("host", replaced.Hostname).Msg("replaced stale inbox lock")
	}

	names, err := p.pending()
	if err != nil {
		return report, err
	}
	log.Info().Int("files", len(names)).Msg("inbox scan complete")

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("inbox run interrupted")
			break
		}
		result := p.processFile(ctx, name)
		switch result.Status {
		case StatusSuccess:
			report.Successful++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		}
		report.Files = append(report.Files, result)
	}

	report.CompletedAt = p.now()
	path, err := p.writeReport(report)
	if err != nil {
		return report, err
	}
	report.ReportPath = path

	log.Info().
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Str("report", path).
		Msg("inbox run complete")
	return report, nil
}

// pending lists visible regular files not already claimed, in name order.
func (p *Processor) pending() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, InboxDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, claimedExtension) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Processor) processFile(ctx context.Context, name string) (result FileResult) {
	log := logger.FromContext(ctx).With().Str("file", name).Logger()
	result.Name = name
	started := p.now()
	defer func() { result.DurationMs = p.now().Sub(started).Milliseconds() }()

	original := filepath.Join(p.root, InboxDir, name)
	claimed := original + claimedExtension
	if err := os.Rename(original, claimed); err != nil {
		log.Warn().Err(err).Msg("could not claim file")
		result.Status = StatusSkipped
		result.Error = err.Error()
		return result
	}

	summary, err := p.decodeClaimed(ctx, claimed, name)
	result.Summary = &summary
	result.UploadID = summary.UploadID
	result.TotalLines = summary.TotalLines
	result.DecodedCount = summary.DecodedCount
	result.ErrorCount = summary.ErrorCount
	result.Duplicates = summary.Duplicates.RowsRemoved
	result.Months = summary.MonthsInvalidated

	if err != nil {
		log.Error().Err(err).Msg("decode failed, returning file to inbox")
		if unclaimErr := os.Rename(claimed, original); unclaimErr != nil {
			log.Error().Err(unclaimErr).Msg("failed to unclaim file")
		}
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	destination, err := uniquePath(filepath.Join(p.root, ProcessedDir), name)
	if err == nil {
		err = os.Rename(claimed, destination)
	}
	if err != nil {
		// The data is already loaded; leave the claimed file where it is.
		log.Error().Err(err).Msg("failed to move file to processed")
		result.Error = err.Error()
	} else {
		result.ProcessedAs = filepath.Base(destination)
	}
	result.Status = StatusSuccess
	return result
}

func (p *Processor) decodeClaimed(ctx context.Context, path, name string) (ingestion.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Summary{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	uploadID, err := contentUploadID(f)
	if err != nil {
		return ingestion.Summary{}, fmt.Errorf("failed to hash %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ingestion.Summary{}, fmt.Errorf("failed to rewind %s: %w", name, err)
	}

	return p.decoder.DecodeFile(ctx, ingestion.Request{
		UploadID: uploadID,
		Filename: name,
		Data:     f,
	})
}

// contentUploadID derives the upload id from the file bytes. A retried or
// re-dropped file reuses its id, so per-upload deduplication removes rows
// left by an earlier partial load.
func contentUploadID(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return uuid.NewSHA1(uploadNamespace, h.Sum(nil)).String(), nil
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first free n.
func uniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}

func (p *Processor) writeReport(report Report) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	name := fmt.Sprintf("import-report-%s.json", report.StartedAt.Format("20060102-150405"))
	path := filepath.Join(p.root, LogsDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

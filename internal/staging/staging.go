// Package staging keeps the artefacts of one analysis on disk until the
// reviewer submits it: the uploaded raster, the annotated PNG and the
// analysis JSON. Every artefact is keyed by the analysis result id, a UUID
// generated per request; client filenames are only kept as metadata.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

var (
	// ErrNotFound reports an id without staged artefacts.
	ErrNotFound = errors.New("staged result not found")
	// ErrInvalidID reports an id that is not a UUID.
	ErrInvalidID = errors.New("invalid result id")
)

// Error is a failed staging operation.
type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config names the staging directories.
type Config struct {
	UploadDir    string
	ProcessedDir string
	ResultsDir   string
	// KeepUploads retains the uploaded raster after analysis.
	KeepUploads bool
	// Retention is how long staged artefacts survive before Prune removes
	// them. Zero keeps them forever.
	Retention time.Duration
}

// DefaultRetention bounds how long a staged analysis waits for review.
const DefaultRetention = 24 * time.Hour

// DefaultConfig stages below ./data.
func DefaultConfig() Config {
	return ConfigUnder("data")
}

// ConfigUnder places all staging directories below root.
func ConfigUnder(root string) Config {
	return Config{
		UploadDir:    filepath.Join(root, "uploads"),
		ProcessedDir: filepath.Join(root, "processed"),
		ResultsDir:   filepath.Join(root, "results"),
		Retention:    DefaultRetention,
	}
}

// Area is a staging area rooted in the configured directories.
type Area struct {
	cfg Config
}

// New creates the staging directories.
func New(cfg Config) (*Area, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.ProcessedDir, cfg.ResultsDir} {
		if dir == "" {
			return nil, &Error{Op: "init", Err: errors.New("staging directory not configured")}
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &Error{Op: "init", Err: err}
		}
	}
	return &Area{cfg: cfg}, nil
}

// Config returns the area's configuration.
func (a *Area) Config() Config { return a.cfg }

// Entry lists the staged artefacts of one analysis.
type Entry struct {
	ID            string `json:"result_id"`
	Filename      string `json:"filename,omitempty"`
	UploadPath    string `json:"-"`
	AnnotatedPath string `json:"-"`
	ResultPath    string `json:"-"`
}

// ValidateID checks that id is a UUID in canonical form.
func ValidateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != strings.ToLower(id) {
		return ErrInvalidID
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces a client filename to a safe base name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

// Save stages an analysis. raw is the uploaded data and may be nil. The
// annotated raster is taken from the analysis, or rendered from ann when it
// has none. The caller's analysis is not modified; the staged copy carries
// the sanitized filename.
func (a *Area) Save(src *pipeline.Analysis, raw []byte, ann image.Image) (Entry, error) {
	if src == nil {
		return Entry{}, &Error{Op: "save", Err: errors.New("nil analysis")}
	}
	if err := ValidateID(src.ResultID); err != nil {
		return Entry{}, &Error{Op: "save", ID: src.ResultID, Err: err}
	}
	an := *src
	id := an.ResultID
	an.Filename = SanitizeFilename(an.Filename)
	e := Entry{
		ID:            id,
		Filename:      an.Filename,
		AnnotatedPath: a.annotatedPath(id),
		ResultPath:    a.resultPath(id),
	}

	if raw != nil && a.cfg.KeepUploads {
		ext := strings.ToLower(filepath.Ext(an.Filename))
		if !utils.IsSupportedImage(ext) {
			ext = ".img"
		}
		e.UploadPath = filepath.Join(a.cfg.UploadDir, id+ext)
		if err := writeAtomic(e.UploadPath, func(w io.Writer) error {
			_, err := w.Write(raw)
			return err
		}); err != nil {
			return Entry{}, &Error{Op: "save upload", ID: id, Err: err}
		}
	}

	img := image.Image(an.Annotated)
	if an.Annotated == nil {
		img = ann
	}
	if img != nil {
		if err := writeAtomic(e.AnnotatedPath, func(w io.Writer) error { return utils.EncodePNG(w, img) }); err != nil {
			a.remove(e)
			return Entry{}, &Error{Op: "save annotated", ID: id, Err: err}
		}
	}

	if err := writeAtomic(e.ResultPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&an)
	}); err != nil {
		a.remove(e)
		return Entry{}, &Error{Op: "save result", ID: id, Err: err}
	}

	slog.Debug("Staged analysis", "result_id", id, "filename", e.Filename, "barcodes", len(an.Detections))
	return e, nil
}

// Load reads a staged analysis.
func (a *Area) Load(id string) (*pipeline.Analysis, error) {
	if err := ValidateID(id); err != nil {
		return nil, &Error{Op: "load", ID: id, Err: err}
	}
	data, err := os.ReadFile(a.resultPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Op: "load", ID: id, Err: ErrNotFound}
		}
		return nil, &Error{Op: "load", ID: id, Err: err}
	}
	var an pipeline.Analysis
	if err := json.Unmarshal(data, &an); err != nil {
		return nil, &Error{Op: "load", ID: id, Err: fmt.Errorf("corrupt result: %w", err)}
	}
	return &an, nil
}

// OpenAnnotated opens the annotated PNG of id. The caller closes it.
func (a *Area) OpenAnnotated(id string) (*os.File, error) {
	if err := ValidateID(id); err != nil {
		return nil, &Error{Op: "open", ID: id, Err: err}
	}
	f, err := os.Open(a.annotatedPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Op: "open", ID: id, Err: ErrNotFound}
		}
		return nil, &Error{Op: "open", ID: id, Err: err}
	}
	return f, nil
}

// Delete removes every artefact of id. Missing files are ignored.
func (a *Area) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return &Error{Op: "delete", ID: id, Err: err}
	}
	matches, _ := filepath.Glob(filepath.Join(a.cfg.UploadDir, id+".*"))
	for _, m := range append(matches, a.annotatedPath(id), a.resultPath(id)) {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &Error{Op: "delete", ID: id, Err: err}
		}
	}
	return nil
}

// Prune deletes every staged analysis with an artefact last written before
// cutoff and returns how many it removed. Files whose names are not result
// ids are left alone.
func (a *Area) Prune(cutoff time.Time) (int, error) {
	stale := make(map[string]bool)
	for _, dir := range []string{a.cfg.UploadDir, a.cfg.ProcessedDir, a.cfg.ResultsDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0, &Error{Op: "prune", Err: err}
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			name := de.Name()
			id := strings.TrimSuffix(name, filepath.Ext(name))
			if ValidateID(id) != nil {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				stale[id] = true
			}
		}
	}
	n := 0
	for id := range stale {
		if err := a.Delete(id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RunJanitor prunes artefacts older than the configured retention every
// interval until ctx is done. It returns at once when retention is zero.
func (a *Area) RunJanitor(ctx context.Context, interval time.Duration) {
	if a.cfg.Retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.Prune(now.Add(-a.cfg.Retention))
			if err != nil {
				slog.Error("Pruning staged results failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Pruned staged results", "count", n, "retention", a.cfg.Retention.String())
			}
		}
	}
}

func (a *Area) annotatedPath(id string) string { return filepath.Join(a.cfg.ProcessedDir, id+".png") }
func (a *Area) resultPath(id string) string    { return filepath.Join(a.cfg.ResultsDir, id+".json") }

func (a *Area) remove(e Entry) {
	for _, p := range []string{e.UploadPath, e.AnnotatedPath, e.ResultPath} {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

// writeAtomic writes through a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stage-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

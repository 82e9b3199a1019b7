package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// LocalFileArchiver writes expired sessions as JSON lines to a directory,
// one file per cycle:
//
//	{basePath}/trash-2025-03-01T09-00-00Z.jsonl[.gz]
//
// Stored API keys are masked.
type LocalFileArchiver struct {
	basePath string
	compress bool
	now      func() time.Time
}

// NewLocalFileArchiver creates a file-based archiver.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress, now: time.Now}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) Archive(_ context.Context, sessions []*models.Session) (string, error) {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := "trash-" + a.now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(a.basePath, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	var w io.Writer = f
	var gw *gzip.Writer
	if a.compress {
		gw = gzip.NewWriter(f)
		w = gw
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, s := range sessions {
		cp := s.Clone()
		cp.Model = cp.Model.Masked()
		if err := enc.Encode(cp); err != nil {
			f.Close()
			os.Remove(fpath)
			return "", fmt.Errorf("encode session %s: %w", s.ID, err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			f.Close()
			os.Remove(fpath)
			return "", fmt.Errorf("flush archive: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(fpath)
		return "", fmt.Errorf("close archive: %w", err)
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(sessions)).
		Msg("Archived trashed sessions to local file")
	return fpath, nil
}

package library

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const epubExt = ".epub"

// ErrInvalidUpload rejects uploads that cannot be stored
var ErrInvalidUpload = errors.New("invalid upload")

// Ebook describes one source file in the library
type Ebook struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	Modified     time.Time `json:"modified"`
}

// Service provides read access to the ebook folder and accepts
// uploads into the upload folder.
type Service struct {
	ebookDir  string
	uploadDir string
	logger    *slog.Logger
}

func NewService(ebookDir, uploadDir string, logger *slog.Logger) *Service {
	return &Service{
		ebookDir:  ebookDir,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// ListEbooks walks the ebook folder recursively and returns every
// epub file sorted by name. A missing folder yields an empty list
// rather than an error.
func (s *Service) ListEbooks() ([]Ebook, error) {
	if _, err := os.Stat(s.ebookDir); err != nil {
		if os.IsNotExist(err) {
			return []Ebook{}, nil
		}
		return nil, fmt.Errorf("stat ebook folder: %w", err)
	}

	books := []Ebook{}
	err := filepath.WalkDir(s.ebookDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), epubExt) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.ebookDir, path)
		if err != nil {
			return err
		}

		books = append(books, Ebook{
			Name:         d.Name(),
			Path:         path,
			RelativePath: rel,
			Size:         info.Size(),
			Modified:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ebook folder: %w", err)
	}

	sort.Slice(books, func(i, j int) bool { return books[i].Name < books[j].Name })
	return books, nil
}

// SaveUpload stores an uploaded epub under a sanitized name and
// returns its library entry.
func (s *Service) SaveUpload(filename string, r io.Reader) (*Ebook, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: no file selected", ErrInvalidUpload)
	}
	if !strings.HasSuffix(filename, epubExt) {
		return nil, fmt.Errorf("%w: only %s files are allowed", ErrInvalidUpload, epubExt)
	}

	name := sanitizeFilename(filename)
	if !strings.HasSuffix(name, epubExt) {
		return nil, fmt.Errorf("%w: unusable filename %q", ErrInvalidUpload, filename)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload folder: %w", err)
	}

	dst := filepath.Join(s.uploadDir, name)
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("store upload: %w", err)
	}

	s.logger.Info("Ebook uploaded",
		slog.String("filename", name),
		slog.Int64("size", written),
	)

	return &Ebook{
		Name:         name,
		Path:         dst,
		RelativePath: name,
		Size:         written,
		Modified:     time.Now(),
	}, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename strips directory components and anything shells or
// filesystems could choke on. Hidden-file prefixes are dropped so an
// upload can never produce a dotfile.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	return name
}

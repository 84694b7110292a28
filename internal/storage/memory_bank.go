package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"taskrails/internal/domain"
)

var documentNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateDocumentName rejects names that are empty, contain path separators
// or would escape the memory bank.
func ValidateDocumentName(name string) error {
	if !documentNameRe.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid document name %q: %w", name, ErrValidation)
	}
	return nil
}

// FileDocumentStore keeps documents as Markdown files under
// <workspace>/.taskrails/memory-bank/@<name>.md.
type FileDocumentStore struct {
	dir string
}

var _ DocumentStore = (*FileDocumentStore)(nil)

// NewFileDocumentStore returns a store rooted at the given workspace.
// Directories are created on first write.
func NewFileDocumentStore(workspace string) *FileDocumentStore {
	return &FileDocumentStore{dir: filepath.Join(workspace, ".taskrails", "memory-bank")}
}

// Dir is the memory bank directory.
func (f *FileDocumentStore) Dir() string { return f.dir }

func (f *FileDocumentStore) path(name string) string {
	return filepath.Join(f.dir, "@"+name+".md")
}

// PutDocument writes through a temp file and rename so readers never see a
// partially written document.
func (f *FileDocumentStore) PutDocument(_ context.Context, name, content string) error {
	if err := ValidateDocumentName(name); err != nil {
		return Wrap("put document", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return Wrap("put document", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-"+name+"-*")
	if err != nil {
		return Wrap("put document", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Wrap("put document", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Wrap("put document", err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return Wrap("put document", err)
	}
	return nil
}

func (f *FileDocumentStore) GetDocument(_ context.Context, name string) (domain.Document, error) {
	if err := ValidateDocumentName(name); err != nil {
		return domain.Document{}, err
	}
	b, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Document{}, ErrNotFound
	}
	if err != nil {
		return domain.Document{}, Wrap("get document", err)
	}
	return domain.Document{Name: name, Content: string(b)}, nil
}

func (f *FileDocumentStore) ListDocuments(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, Wrap("list documents", err)
	}
	out := []string{}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, "@") || !strings.HasSuffix(n, ".md") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(n, "@"), ".md"))
	}
	sort.Strings(out)
	return out, nil
}

func (f *FileDocumentStore) DeleteDocument(_ context.Context, name string) error {
	if err := ValidateDocumentName(name); err != nil {
		return err
	}
	err := os.Remove(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return Wrap("delete document", err)
}

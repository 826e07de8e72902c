// Package library manages the folders of downloaded audio on disk. Each
// download is stored in its own folder beneath the library base path.
package library

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/klauspost/compress/zip"
)

var (
	log = logger.Get("Library")

	ErrFolderNotFound = errors.New("folder not found")
	ErrIllegalPath    = errors.New("illegal path")

	illegalCharacters = regexp.MustCompile(`[\\/*?:"<>|]`)
)

type Library struct {
	basePath string
}

// New creates a library rooted at the base path given, creating the
// directory if it does not already exist.
func New(basePath string) (*Library, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path %s: %w", basePath, err)
	}
	if err := os.MkdirAll(abs, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create library directory %s: %w", abs, err)
	}

	return &Library{basePath: abs}, nil
}

func (lib *Library) BasePath() string { return lib.basePath }

// SanitizeFilename replaces characters which are illegal in file names on
// common filesystems with an underscore.
func SanitizeFilename(name string) string {
	out := strings.TrimSpace(illegalCharacters.ReplaceAllString(name, "_"))
	if out == "" || out == "." || out == ".." {
		return "_"
	}

	return out
}

// UniqueName returns the name given, or a variant with a numbered suffix
// (before the extension) if the name has already been used.
func UniqueName(used map[string]int, name string) string {
	key := strings.ToLower(name)
	used[key]++
	if used[key] == 1 {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		candidate := fmt.Sprintf("%s (%d)%s", stem, used[key], ext)
		if _, taken := used[strings.ToLower(candidate)]; !taken {
			used[strings.ToLower(candidate)] = 1
			return candidate
		}
		used[key]++
	}
}

// EnsureFolder creates (if needed) the folder for the title given and
// returns its absolute path.
func (lib *Library) EnsureFolder(title string) (string, error) {
	path := filepath.Join(lib.basePath, SanitizeFilename(title))
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create folder for %s: %w", title, err)
	}

	return path, nil
}

// Resolve joins the folder (and optional file) to the library base path. Paths
// which would escape the library are rejected with ErrIllegalPath, and paths
// which do not exist are rejected with ErrFolderNotFound.
func (lib *Library) Resolve(folder string, file ...string) (string, error) {
	parts := append([]string{folder}, file...)
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrIllegalPath, p)
		}
	}

	path := filepath.Join(append([]string{lib.basePath}, parts...)...)
	rel, err := filepath.Rel(lib.basePath, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, path)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFolderNotFound, filepath.Join(parts...))
		}
		return "", err
	}

	return path, nil
}

// FolderSizeMB recursively sums the size of every regular file beneath the
// path given, in megabytes.
func FolderSizeMB(path string) (float64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		// Another task sharing the folder may have moved the file since it was listed.
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to calculate size of %s: %w", path, err)
	}

	return float64(total) / (1024 * 1024), nil
}

// ListFiles returns the names of the regular files inside the folder, sorted.
func ListFiles(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	return files, nil
}

// WriteArchive writes a zip archive containing every regular file in the
// folder to the writer. Entries are named after the file.
func WriteArchive(w io.Writer, path string) error {
	files, err := ListFiles(path)
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(w)
	defer func() { _ = zipWriter.Close() }()

	for _, name := range files {
		if err := addToArchive(zipWriter, filepath.Join(path, name), name); err != nil {
			return err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalise archive of %s: %w", path, err)
	}

	log.Emit(logger.DEBUG, "Archived %d files from %s\n", len(files), path)
	return nil
}

func addToArchive(zipWriter *zip.Writer, path string, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", path, err)
	}
	defer src.Close()

	dst, err := zipWriter.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to write zip entry header for %q: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write zip entry %q: %w", name, err)
	}

	return nil
}

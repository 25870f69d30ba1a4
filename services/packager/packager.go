// Package packager turns a simulation results directory into a single
// deterministic zip artifact ready for upload.
package packager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// outputDirPrefix marks a simulation output directory. Results are either a
// single such directory or a parent containing one or more of them.
const outputDirPrefix = "RUN"

var (
	// ErrInvalidDirectory reports a path that is missing, not a directory,
	// or matches neither recognized results shape.
	ErrInvalidDirectory = errors.New("invalid results directory")

	// ErrPackaging reports a failure while reading or archiving files.
	ErrPackaging = errors.New("results packaging failed")
)

// Artifact is the packaged output of one results directory. It is immutable
// once returned; Bytes is the full zip archive.
type Artifact struct {
	Bytes          []byte
	FileCount      int
	TotalSizeBytes int64
	Checksum       string
	DirectoryName  string
}

// Package archives the results directory. Identical input always yields an
// identical archive and checksum: entries are added in lexicographic path
// order with zeroed timestamps, so repeated packaging of an unchanged
// directory is byte-for-byte stable.
func Package(ctx context.Context, resultsDir string) (*Artifact, error) {
	info, err := os.Stat(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidDirectory, resultsDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, resultsDir)
	}

	roots, err := outputRoots(resultsDir)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no simulation output directories under %s", ErrInvalidDirectory, resultsDir)
	}

	entries, err := collectEntries(ctx, roots)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var totalSize int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		size, err := addEntry(zw, entry)
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
		}
		totalSize += size
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close archive: %v", ErrPackaging, err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Artifact{
		Bytes:          buf.Bytes(),
		FileCount:      len(entries),
		TotalSizeBytes: totalSize,
		Checksum:       hex.EncodeToString(sum[:]),
		DirectoryName:  filepath.Base(resultsDir),
	}, nil
}

// outputRoots resolves the two recognized shapes: the directory itself is an
// output directory, or it is a parent holding output subdirectories.
func outputRoots(resultsDir string) ([]string, error) {
	if isOutputDir(resultsDir) {
		return []string{resultsDir}, nil
	}

	children, err := os.ReadDir(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPackaging, resultsDir, err)
	}

	var roots []string
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(child.Name()), outputDirPrefix) {
			roots = append(roots, filepath.Join(resultsDir, child.Name()))
		}
	}
	sort.Strings(roots)
	return roots, nil
}

func isOutputDir(path string) bool {
	return strings.HasPrefix(strings.ToUpper(filepath.Base(path)), outputDirPrefix)
}

type archiveEntry struct {
	name string // path inside the archive, slash separated
	path string // path on disk
}

// collectEntries walks every root and records regular files. Symlinks are
// skipped so an archive can never reach outside the results directory.
func collectEntries(ctx context.Context, roots []string) ([]archiveEntry, error) {
	var entries []archiveEntry
	for _, root := range roots {
		prefix := filepath.Base(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return fmt.Errorf("relative path for %q: %w", path, err)
			}
			entries = append(entries, archiveEntry{
				name: prefix + "/" + filepath.ToSlash(rel),
				path: path,
			})
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: walk %s: %v", ErrPackaging, root, err)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})
	return entries, nil
}

func addEntry(zw *zip.Writer, entry archiveEntry) (int64, error) {
	file, err := os.Open(entry.path)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", entry.path, err)
	}
	defer file.Close()

	// Header carries only the name and method; the zero Modified time keeps
	// the archive bytes independent of when packaging ran.
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   entry.name,
		Method: zip.Deflate,
	})
	if err != nil {
		return 0, fmt.Errorf("create archive entry %q: %w", entry.name, err)
	}

	size, err := io.Copy(w, file)
	if err != nil {
		return 0, fmt.Errorf("archive %q: %w", entry.path, err)
	}
	return size, nil
}

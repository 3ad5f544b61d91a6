// Package voicenotes persists recorded audio blobs while their owning
// response waits in the queue.
//
// A just-recorded file is moved (not copied) out of scratch storage into a
// stable directory so it survives process restarts, and deleted once its
// response is confirmed delivered. Filenames are bare (<uuid>.m4a); the
// directory is implicit so records never embed absolute paths.
package voicenotes

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileExtension is the container format the watch records in.
const FileExtension = ".m4a"

// DirName is the blob directory created under the device state dir.
const DirName = "voicenotes"

// Store moves voice recordings into a stable directory and resolves their
// bare filenames back to paths at drain time.
type Store struct {
	dir string
}

// New creates the blob directory under stateDir if needed.
func New(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create voice-note directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Persist moves the temp recording into the store and returns its bare
// filename. On any failure the temp file is removed so scratch storage does
// not leak; the caller submits the response without audio.
func (s *Store) Persist(tempPath string) (string, error) {
	name := uuid.NewString() + FileExtension
	dst := filepath.Join(s.dir, name)

	if err := moveFile(tempPath, dst); err != nil {
		if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("Store.Persist: failed to clean up temp recording", "path", tempPath, "error", rmErr)
		}
		return "", fmt.Errorf("failed to persist voice note: %w", err)
	}
	slog.Debug("Store.Persist: voice note persisted", "filename", name)
	return name, nil
}

// Resolve maps a bare filename back to a readable path.
func (s *Store) Resolve(filename string) string {
	// filepath.Base guards against stored names escaping the blob dir.
	return filepath.Join(s.dir, filepath.Base(filename))
}

// Delete removes a blob best-effort. Failures are logged, not propagated: a
// leaked audio file is not a correctness problem.
func (s *Store) Delete(filename string) {
	if filename == "" {
		return
	}
	if err := os.Remove(s.Resolve(filename)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Store.Delete: failed to remove voice note", "filename", filename, "error", err)
	}
}

// moveFile renames src to dst, falling back to copy+remove when rename fails
// (scratch storage may sit on a different filesystem than the state dir).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	in.Close()
	return os.Remove(src)
}

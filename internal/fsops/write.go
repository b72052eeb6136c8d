package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
)

// writeAtomic writes data to path through a temp file in the same
// directory followed by a rename. Existing files keep their permissions.
func writeAtomic(bfs billy.Filesystem, path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := bfs.TempFile(dir, ".treesync-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = bfs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = bfs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	if info, err := bfs.Stat(path); err == nil {
		if ch, ok := bfs.(billy.Change); ok {
			_ = ch.Chmod(tmpName, info.Mode()) // best-effort permission sync
		}
	}

	if err := bfs.Rename(tmpName, path); err != nil {
		_ = bfs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

func exists(bfs billy.Filesystem, path string) bool {
	_, err := bfs.Stat(path)
	return err == nil
}

func removeIfExists(bfs billy.Filesystem, path string) error {
	if err := bfs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

package watcher

import "bytes"

type Op int

const (
	Created Op = iota
	Modified
	Removed
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Modified:
		return "modified"
	default:
		return "removed"
	}
}

// cache remembers the last content seen per path so that only real
// changes are reported.
type cache struct {
	files map[string][]byte
}

func newCache() *cache {
	return &cache{files: make(map[string][]byte)}
}

// update records the current state of path and reports what changed.
// exists is false when the file could not be read.
func (c *cache) update(path string, data []byte, exists bool) (Op, bool) {
	old, had := c.files[path]
	switch {
	case !exists && !had:
		return 0, false
	case !exists:
		delete(c.files, path)
		return Removed, true
	case !had:
		c.files[path] = bytes.Clone(data)
		return Created, true
	case bytes.Equal(old, data):
		return 0, false
	default:
		c.files[path] = bytes.Clone(data)
		return Modified, true
	}
}

package dom

import (
	"fmt"
	"strconv"
)

// Ref identifies a live instance. Refs are handed out monotonically and
// never reused, so a stale Ref simply fails to resolve.
type Ref uint32

// None is the absent Ref, the parent of the root.
const None Ref = 0

func (r Ref) IsNone() bool { return r == None }

func (r Ref) String() string {
	return strconv.FormatUint(uint64(r), 16)
}

// MarshalText encodes r as lowercase hex.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Ref) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 16, 32)
	if err != nil {
		return fmt.Errorf("parse ref %q: %w", text, err)
	}
	*r = Ref(v)
	return nil
}

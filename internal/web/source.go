package web

import (
	"fmt"
	"os"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vxco/phase/internal/session"
)

// FileSource decodes the workspace at path on first use and again whenever
// the file's modification time or size changes. Decoded sessions expire
// after ttl without requests.
func FileSource(path string, ttl time.Duration, open func(path string) (*session.Session, error)) Source {
	c := cache.New(ttl, 2*ttl)
	return func() (*session.Session, error) {
		info, err := os.Stat(path)
		if err != nil {
			// open reports the missing file in its own terms
			return open(path)
		}
		key := fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
		if v, ok := c.Get(key); ok {
			return v.(*session.Session), nil
		}
		s, err := open(path)
		if err != nil {
			return nil, err
		}
		c.SetDefault(key, s)
		return s, nil
	}
}

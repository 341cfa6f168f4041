package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lzyats/im-sentinel/pkg/event"
)

// Vault writes captured view-once payloads as viewonce_<unixMillis>.<ext>.
type Vault struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewVault(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Vault{dir: dir, now: time.Now}, nil
}

func (v *Vault) Dir() string { return v.dir }

// Ext picks the file extension for a media descriptor.
func Ext(m *event.Media) string {
	if m == nil {
		return "dat"
	}
	switch m.Kind {
	case event.MediaImage:
		return "jpg"
	case event.MediaVideo:
		return "mp4"
	case event.MediaAudio:
		return "ogg"
	case event.MediaSticker:
		return "webp"
	case event.MediaDocument:
		_, sub, _ := strings.Cut(m.MimeType, "/")
		if i := strings.IndexAny(sub, "/;"); i >= 0 {
			sub = sub[:i]
		}
		if sub = strings.TrimSpace(sub); safeExt(sub) {
			return sub
		}
		return "bin"
	}
	return "dat"
}

// safeExt accepts [A-Za-z0-9.+-] only, without "..", so the name cannot
// leave the vault directory.
func safeExt(s string) bool {
	if s == "" || len(s) > 32 || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '+', r == '-':
		default:
			return false
		}
	}
	return true
}

// Save writes data and returns the file path. Names stay unique when two
// captures land in the same millisecond.
func (v *Vault) Save(ext string, data []byte) (string, error) {
	if !safeExt(ext) {
		ext = "bin"
	}
	v.mu.Lock()
	ms := v.now().UnixMilli()
	if ms <= v.last {
		ms = v.last + 1
	}
	v.last = ms
	v.mu.Unlock()

	p := filepath.Join(v.dir, fmt.Sprintf("viewonce_%d.%s", ms, ext))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

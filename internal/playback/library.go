package playback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

var ErrNoRingtone = errors.New("no ringtone available")

// Library locates ringtone WAV files in one directory.
type Library struct {
	mu  sync.RWMutex
	dir string
	def string
}

func NewLibrary(dir, defaultName string) *Library {
	return &Library{dir: dir, def: defaultName}
}

// Configure swaps the directory and default name.
func (l *Library) Configure(dir, defaultName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dir = dir
	l.def = defaultName
}

// Dir returns the ringtone directory.
func (l *Library) Dir() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dir
}

// List returns the WAV files in the directory, sorted by name.
func (l *Library) List() ([]string, error) {
	dir := l.Dir()
	files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return nil, fmt.Errorf("list ringtones in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Resolve maps a ringtone name to a file. Names are looked up inside the
// directory only, ".wav" is appended when missing, and an empty name means
// the default. A name that does not exist falls back to the default, then to
// the first listed file. The returned bool reports whether a fallback was used.
func (l *Library) Resolve(name string) (string, bool, error) {
	l.mu.RLock()
	dir, def := l.dir, l.def
	l.mu.RUnlock()

	if name == "" {
		name = def
	}
	if p, ok := lookup(dir, name); ok {
		return p, false, nil
	}
	if p, ok := lookup(dir, def); ok {
		return p, true, nil
	}
	files, err := l.List()
	if err != nil {
		return "", true, err
	}
	if len(files) == 0 {
		return "", true, fmt.Errorf("resolve %q in %s: %w", name, dir, ErrNoRingtone)
	}
	return files[0], true, nil
}

func lookup(dir, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	name = filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(name), ".wav") {
		name += ".wav"
	}
	p := filepath.Join(dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

// WavDuration reads the playing time from a WAV header.
func WavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("%s: read duration: %w", path, err)
	}
	return dur, nil
}

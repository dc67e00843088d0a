// Package presets holds the built-in and operator supplied starting
// patterns, reloading the operator file when it changes on disk.
package presets

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed default_presets.yaml
var defaultPresets []byte

const defaultDebounce = 200 * time.Millisecond

// Preset is one named starting pattern.
type Preset struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Code        string `yaml:"code" json:"code"`
}

// Library is the current preset list. Safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	path    string
	presets []Preset
}

// Load reads presets from path, or the built-in set when path is empty.
func Load(path string) (*Library, error) {
	lib := &Library{path: path}
	if path == "" {
		presets, err := Parse(defaultPresets)
		if err != nil {
			return nil, fmt.Errorf("built-in presets: %w", err)
		}
		lib.presets = presets
		return lib, nil
	}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Parse decodes a YAML preset list, dropping entries without code.
func Parse(data []byte) ([]Preset, error) {
	var raw []Preset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	presets := raw[:0]
	for i, p := range raw {
		p.Code = strings.TrimSpace(p.Code)
		if p.Code == "" {
			continue
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("Preset %d", i+1)
		}
		presets = append(presets, p)
	}
	if len(presets) == 0 {
		return nil, ErrNoPresets
	}
	return presets, nil
}

// Reload re-reads the preset file. On error the current list is kept.
func (l *Library) Reload() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read presets %s: %w", l.path, err)
	}
	presets, err := Parse(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.presets = presets
	l.mu.Unlock()
	return nil
}

func (l *Library) List() []Preset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Preset, len(l.presets))
	copy(out, l.presets)
	return out
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.presets)
}

// Get returns the preset at a 0-based index.
func (l *Library) Get(index int) (Preset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.presets) {
		return Preset{}, ErrIndexOutOfRange
	}
	return l.presets[index], nil
}

// Initial returns the startup code: the first preset.
func (l *Library) Initial() string {
	p, err := l.Get(0)
	if err != nil {
		return ""
	}
	return p.Code
}

// Watch reloads the library when its file changes, until ctx is cancelled.
// Editors often write through a rename, so the parent directory is watched
// and events are filtered by file name. Bursts are debounced.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create preset watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.path, err)
	}
	target := filepath.Clean(l.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if err := l.Reload(); err != nil {
			log.Printf("Preset reload failed, keeping previous set: %v", err)
			return
		}
		log.Printf("Reloaded %d presets from %s", l.Len(), l.path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, reload)
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Preset watcher error: %v", err)
		}
	}
}

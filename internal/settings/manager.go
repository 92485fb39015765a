package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "vaultwatch/pkg/logx"
)

// Manager owns the settings blob on disk: it loads, normalizes, and
// hot-reloads it, publishing full snapshots to subscribers.
//
// Snapshots are immutable by convention: every Get/publish hands out a
// deep copy, so concurrent readers never observe partial updates.
type Manager struct {
	path string

	mu  sync.RWMutex
	cur Settings
	// lastHash tracks the last committed blob content so editor-induced
	// duplicate write events don't cause redundant publishes.
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan Settings

	log logx.Logger
}

func NewManager(path string) *Manager {
	return &Manager{path: path, cur: Defaults()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads and normalizes the settings file without committing it.
// A missing file is not an error; it yields pure defaults.
func (m *Manager) Parse() (Settings, error) {
	b, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return Settings{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(jb, &raw); err != nil {
		return Settings{}, fmt.Errorf("settings decode: %w", err)
	}
	return Normalize(raw), nil
}

// Load parses and commits the settings file.
func (m *Manager) Load() (Settings, error) {
	st, err := m.Parse()
	if err != nil {
		return Settings{}, err
	}
	m.commit(st)
	return st.Clone(), nil
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Clone()
}

func (m *Manager) commit(st Settings) {
	m.mu.Lock()
	m.cur = st
	m.lastHash = hashSettings(st)
	m.mu.Unlock()
}

func hashSettings(st Settings) uint64 {
	b, err := json.Marshal(st)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving normalized snapshots on reload.
func (m *Manager) Subscribe(buffer int) chan Settings {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Settings, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan Settings) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(st Settings) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Deliver the latest snapshot; a slow subscriber loses the older one.
		select {
		case ch <- st.Clone():
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st.Clone():
			default:
			}
		}
	}
}

// Watch re-reads the settings file on filesystem changes until ctx ends.
// Parse failures keep the previous snapshot (a broken save must never
// leave the engine without settings).
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	// debounce to avoid reloading partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			st, err := m.Parse()
			if err != nil {
				if !m.log.IsZero() {
					m.log.Warn("settings parse failed; keeping previous snapshot",
						logx.String("path", m.path), logx.Err(err))
				}
				return
			}

			h := hashSettings(st)
			m.mu.RLock()
			unchanged := h != 0 && h == m.lastHash
			m.mu.RUnlock()
			if unchanged {
				return
			}

			m.commit(st)
			m.publish(st)
			if !m.log.IsZero() {
				m.log.Info("settings reloaded", logx.String("path", m.path))
			}
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("settings watch init failed", logx.Err(err), logx.String("dir", dir))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				continue
			}
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; editors often replace via rename.
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil && !m.log.IsZero() {
					m.log.Warn("settings watch error", logx.Err(werr), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		// Watcher broke (common on some platforms); recreate after a pause.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

package universe

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"robotrader/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Entry is one watchlist stock.
type Entry struct {
	Code   string `mapstructure:"code" yaml:"code"`
	Name   string `mapstructure:"name" yaml:"name"`
	Reason string `mapstructure:"reason" yaml:"reason"`
}

type fileConfig struct {
	Stocks []Entry `mapstructure:"stocks" yaml:"stocks"`
}

// Snapshot is one validated watchlist generation.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Entries  []Entry
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Watchlist loads the stock universe from a yaml file and hot-reloads it on
// edit. A reload that fails validation keeps the previous generation live.
type Watchlist struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Load reads the watchlist file and starts watching it for changes.
func Load(path string) (*Watchlist, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("universe: watchlist path required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("universe: read watchlist: %w", err)
	}
	w := &Watchlist{path: path, v: v}
	if err := w.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("universe: watchlist reload failed, keeping previous: %v", err)
			return
		}
		w.notifyListeners()
	})
	v.WatchConfig()
	return w, nil
}

// Snapshot returns the current watchlist generation.
func (w *Watchlist) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := w.snapshot
	out.Entries = append([]Entry(nil), w.snapshot.Entries...)
	return out
}

// Codes returns the current watchlist codes in file order.
func (w *Watchlist) Codes() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.snapshot.Entries))
	for _, e := range w.snapshot.Entries {
		out = append(out, e.Code)
	}
	return out
}

// OnChange registers a listener for future reloads.
func (w *Watchlist) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watchlist) reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	var cfg fileConfig
	if err := w.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("universe: parse watchlist: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Stocks))
	entries := make([]Entry, 0, len(cfg.Stocks))
	for i, e := range cfg.Stocks {
		e.Code = strings.TrimSpace(e.Code)
		if e.Code == "" {
			return fmt.Errorf("universe: stocks[%d] has empty code", i)
		}
		if seen[e.Code] {
			logger.Warnf("universe: duplicate code %s skipped", e.Code)
			continue
		}
		seen[e.Code] = true
		entries = append(entries, e)
	}

	w.mu.Lock()
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Entries:  entries,
	}
	n := len(entries)
	ver := w.snapshot.Version
	w.mu.Unlock()

	logger.Infof("universe: watchlist v%d loaded, %d stocks", ver, n)
	return nil
}

func (w *Watchlist) notifyListeners() {
	snap := w.Snapshot()
	w.mu.RLock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

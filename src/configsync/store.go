package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ojhub/realtime/src/loop"
	"github.com/rs/zerolog"
)

// Keys the store accepts. Updates for anything else are ignored.
const (
	KeyWebsiteBaseURL        = "website_base_url"
	KeyWebsiteName           = "website_name"
	KeyWebsiteNameShortcut   = "website_name_shortcut"
	KeyWebsiteFooter         = "website_footer"
	KeySubmissionListShowAll = "submission_list_show_all"
	KeyAllowRegister         = "allow_register"
	KeyClassList             = "class_list"
)

// KnownKeys lists every key the store tracks.
var KnownKeys = []string{
	KeyWebsiteBaseURL,
	KeyWebsiteName,
	KeyWebsiteNameShortcut,
	KeyWebsiteFooter,
	KeySubmissionListShowAll,
	KeyAllowRegister,
	KeyClassList,
}

// WebsiteSource loads the full site configuration.
type WebsiteSource interface {
	GetWebsiteConfig(ctx context.Context) (map[string]json.RawMessage, error)
}

// Store is the local reactive copy of the site configuration.
type Store struct {
	logger zerolog.Logger
	loop   *loop.Loop

	mu       sync.Mutex
	values   map[string]json.RawMessage
	watchers map[int]func(key string, value json.RawMessage)
	next     int
}

// NewStore returns a store with every known key unset.
func NewStore(logger zerolog.Logger) *Store {
	logger = logger.With().Str("component", "config-store").Logger()
	values := make(map[string]json.RawMessage, len(KnownKeys))
	for _, k := range KnownKeys {
		values[k] = nil
	}
	return &Store{
		logger:   logger,
		loop:     loop.New(logger),
		values:   values,
		watchers: make(map[int]func(string, json.RawMessage)),
	}
}

// Apply sets key to value. Unknown keys are ignored and false is returned.
func (s *Store) Apply(key string, value json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		s.logger.Debug().Str("key", key).Msg("ignoring unknown config key")
		return false
	}
	v := append(json.RawMessage(nil), value...)
	s.values[key] = v
	for id, fn := range s.watchers {
		s.post(id, fn, key, v)
	}
	return true
}

// Get returns the raw value of key and whether it has been set.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[key]
	return v, v != nil
}

// String decodes key as a string, returning "" when unset or not a string.
func (s *Store) String(key string) string {
	var out string
	s.decode(key, &out)
	return out
}

// Bool decodes key as a bool, returning false when unset or not a bool.
func (s *Store) Bool(key string) bool {
	var out bool
	s.decode(key, &out)
	return out
}

func (s *Store) decode(key string, v any) {
	raw, ok := s.Get(key)
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("config value has unexpected type")
	}
}

// Snapshot returns a copy of every set value.
func (s *Store) Snapshot() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// OnChange calls fn for every applied update until cancel is called.
func (s *Store) OnChange(fn func(key string, value json.RawMessage)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Load fetches the full configuration and applies the known keys.
func (s *Store) Load(ctx context.Context, src WebsiteSource) error {
	cfg, err := src.GetWebsiteConfig(ctx)
	if err != nil {
		return fmt.Errorf("load website config: %w", err)
	}
	applied := 0
	for k, v := range cfg {
		if s.Apply(k, v) {
			applied++
		}
	}
	s.logger.Info().Int("keys", applied).Msg("website config loaded")
	return nil
}

// Flush waits for pending change notifications.
func (s *Store) Flush() {
	s.loop.Wait()
}

func (s *Store) post(id int, fn func(string, json.RawMessage), key string, v json.RawMessage) {
	s.loop.Post(func() {
		s.mu.Lock()
		_, live := s.watchers[id]
		s.mu.Unlock()
		if live {
			fn(key, v)
		}
	})
}

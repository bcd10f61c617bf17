package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/local/writingtools/internal/ai"
)

// ProviderSettings is the persisted connection data for one backend.
type ProviderSettings struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"organization"`
	Project      string `mapstructure:"project"`
	Model        string `mapstructure:"model"`
}

// Command is a user-defined operation.
type Command struct {
	Name              string `mapstructure:"name" json:"name"`
	Prompt            string `mapstructure:"prompt" json:"prompt"`
	UseResponseWindow bool   `mapstructure:"use_response_window" json:"use_response_window"`
}

// Settings is the decoded settings file.
type Settings struct {
	CurrentProvider string           `mapstructure:"current_provider"`
	Gemini          ProviderSettings `mapstructure:"gemini"`
	OpenAI          ProviderSettings `mapstructure:"openai"`
	Commands        []Command        `mapstructure:"commands"`
}

// ProviderConfig converts the stored settings for name into an ai.ProviderConfig.
func (s Settings) ProviderConfig(name string, timeout time.Duration) ai.ProviderConfig {
	ps := s.Gemini
	if name == ai.OpenAI {
		ps = s.OpenAI
	}
	return ai.ProviderConfig{
		APIKey:       ps.APIKey,
		BaseURL:      ps.BaseURL,
		Organization: ps.Organization,
		Project:      ps.Project,
		Model:        ps.Model,
		Timeout:      timeout,
	}
}

// Command looks up a custom command by name.
func (s Settings) Command(name string) (Command, bool) {
	for _, c := range s.Commands {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Command{}, false
}

// Listener receives every successfully reloaded snapshot.
type Listener func(Settings)

// Store owns the settings file. Values may be overridden by WRITINGTOOLS_* env vars.
type Store struct {
	path       string
	passphrase string
	v          *viper.Viper

	mu        sync.RWMutex
	current   Settings
	listeners []Listener
}

// Open reads path, creating it with defaults when it does not exist.
func Open(path, passphrase string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings: empty path")
	}
	if err := ensureFile(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WRITINGTOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	s := &Store{path: path, passphrase: passphrase, v: v}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("current_provider", ai.Gemini)
	for _, p := range []string{ai.Gemini, ai.OpenAI} {
		v.SetDefault(p+".api_key", "")
		v.SetDefault(p+".base_url", "")
		v.SetDefault(p+".organization", "")
		v.SetDefault(p+".project", "")
		v.SetDefault(p+".model", "")
	}
	v.SetDefault("gemini.model", "gemini-1.5-flash-latest")
	v.SetDefault("openai.model", "gpt-4o-mini")
}

func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte("current_provider: gemini\n"), 0o600); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	log.Info().Str("path", path).Msg("created default settings file")
	return nil
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.current
	out.Commands = append([]Command(nil), s.current.Commands...)
	return out
}

// Subscribe registers fn for reloads.
func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Watch starts reloading the file whenever it changes on disk.
func (s *Store) Watch() {
	s.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(); err != nil {
			log.Error().Err(err).Str("file", evt.Name).Msg("settings reload failed")
			return
		}
		log.Info().Str("file", filepath.Base(evt.Name)).Str("op", evt.Op.String()).Msg("settings reloaded")
		s.notify()
	})
	s.v.WatchConfig()
}

// SetCurrentProvider persists the active backend name.
func (s *Store) SetCurrentProvider(name string) error {
	if name != ai.Gemini && name != ai.OpenAI {
		return fmt.Errorf("unknown provider %q", name)
	}
	raw := viper.New()
	raw.SetConfigFile(s.path)
	raw.SetConfigType("yaml")
	if err := raw.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	raw.Set("current_provider", name)
	if err := raw.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	// the watcher, when running, re-reads the file on its own goroutine
	s.mu.Lock()
	s.current.CurrentProvider = name
	s.mu.Unlock()
	return nil
}

func (s *Store) reload() error {
	var next Settings
	if err := s.v.Unmarshal(&next); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	for _, ps := range []*ProviderSettings{&next.Gemini, &next.OpenAI} {
		key, err := DecryptSecret(ps.APIKey, s.passphrase)
		if err != nil {
			return err
		}
		ps.APIKey = key
		ps.BaseURL = strings.TrimSpace(ps.BaseURL)
	}
	next.CurrentProvider = strings.ToLower(strings.TrimSpace(next.CurrentProvider))
	if next.CurrentProvider != ai.OpenAI {
		next.CurrentProvider = ai.Gemini
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("settings listener panic")
				}
			}()
			fn(snap)
		}()
	}
}

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/config/layer"
	"github.com/dshills/rumbeacon/internal/config/loader"
	"github.com/dshills/rumbeacon/internal/config/watcher"
)

// Layer names.
const (
	LayerDefaults = "defaults"
	LayerFile     = "file"
	LayerEnv      = "env"
	LayerOverride = "override"
)

// ChangeFunc receives the sorted dot paths that changed.
type ChangeFunc func(changed []string)

// Config is the merged agent configuration.
type Config struct {
	mu       sync.RWMutex
	layers   *layer.Manager
	merged   map[string]any
	override []byte

	file      string
	envPrefix string
	useEnv    bool
	defaults  map[string]any
	sections  []string

	watcher  *watcher.Watcher
	onChange []ChangeFunc
	logger   *zap.Logger
}

// Option configures a Config.
type Option func(*Config)

// WithFile sets the config file. The format follows the extension.
func WithFile(path string) Option {
	return func(c *Config) { c.file = path }
}

// WithEnv enables the environment layer with prefix ("" for RUMBEACON_).
func WithEnv(prefix string) Option {
	return func(c *Config) {
		c.useEnv = true
		c.envPrefix = prefix
	}
}

// WithDefaults merges extra defaults over the built-in ones.
func WithDefaults(m map[string]any) Option {
	return func(c *Config) { c.defaults = layer.DeepMerge(c.defaults, m) }
}

// WithSections names the plugin sections so environment variables map to
// their canonical spelling.
func WithSections(names ...string) Option {
	return func(c *Config) { c.sections = append(c.sections, names...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Config holding only defaults until Load is called.
func New(opts ...Option) *Config {
	c := &Config{
		layers:   layer.NewManager(),
		defaults: Defaults(),
		override: []byte("{}"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.layers.Put(layer.WithData(LayerDefaults, layer.SourceBuiltin, c.defaults))
	c.layers.Put(layer.New(LayerOverride, layer.SourceOverride))
	c.merged = c.layers.Merge()
	return c
}

// FromMap builds a Config from a single map layered over the defaults.
func FromMap(m map[string]any) *Config {
	c := New()
	c.layers.Put(layer.WithData(LayerFile, layer.SourceFile, m))
	c.merged = c.layers.Merge()
	return c
}

// Load reads the file and environment layers.
func (c *Config) Load() error {
	_, err := c.reload()
	return err
}

// Reload re-reads every source and notifies OnChange callbacks when
// anything changed.
func (c *Config) Reload() error {
	changed, err := c.reload()
	if err != nil {
		return err
	}
	if len(changed) > 0 {
		c.notify(changed)
	}
	return nil
}

func (c *Config) reload() ([]string, error) {
	if c.file != "" {
		f, err := loader.ForPath(c.file)
		if err != nil {
			return nil, err
		}
		data, err := f.Load()
		if err != nil {
			return nil, err
		}
		l := layer.WithData(LayerFile, layer.SourceFile, data)
		l.Path = c.file
		c.layers.Put(l)
	}
	if c.useEnv {
		data, err := loader.NewEnv(c.envPrefix, c.sections...).Load()
		if err != nil {
			return nil, err
		}
		c.layers.Put(layer.WithData(LayerEnv, layer.SourceEnv, data))
	}
	return c.remerge(), nil
}

func (c *Config) remerge() []string {
	merged := c.layers.Merge()
	c.mu.Lock()
	old := c.merged
	c.merged = merged
	c.mu.Unlock()
	return layer.ChangedPaths(old, merged)
}

// Override applies a JSON document over every other layer. Keys may be
// dot paths ({"RT.cookie": "x"}) or nested objects.
func (c *Config) Override(doc []byte) error {
	res := gjson.ParseBytes(doc)
	if !gjson.ValidBytes(doc) || !res.IsObject() {
		return ErrInvalidOverride
	}

	c.mu.Lock()
	next := c.override
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		next, err = sjson.SetRawBytes(next, escapeKey(key.String()), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("applying override: %w", err)
	}
	c.override = next
	c.mu.Unlock()

	return c.applyOverride()
}

// Set overrides a single dot path at runtime.
func (c *Config) Set(path string, value any) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return ErrInvalidPath
	}
	c.mu.Lock()
	next, err := sjson.SetBytes(c.override, path, value)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("set %s: %w", path, err)
	}
	c.override = next
	c.mu.Unlock()

	return c.applyOverride()
}

// OverrideJSON returns the accumulated override document.
func (c *Config) OverrideJSON() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return string(c.override)
}

func (c *Config) applyOverride() error {
	c.mu.RLock()
	doc := c.override
	c.mu.RUnlock()

	data, err := loader.Parse("json", doc)
	if err != nil {
		return err
	}
	c.layers.Put(layer.WithData(LayerOverride, layer.SourceOverride, data))
	if changed := c.remerge(); len(changed) > 0 {
		c.notify(changed)
	}
	return nil
}

// escapeKey keeps top-level dotted keys as paths while escaping sjson
// wildcards.
func escapeKey(k string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}

// Get returns the merged value at path.
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return layer.GetByPath(c.merged, path)
}

// Origin reports which layer supplies path.
func (c *Config) Origin(path string) (string, bool) {
	return c.layers.Origin(path)
}

// Root returns the whole merged configuration as a section.
func (c *Config) Root() Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return NewSection("", c.merged)
}

// Options returns the typed core options.
func (c *Config) Options() Options {
	return OptionsFrom(c.Root())
}

// Section returns the named plugin section. A missing section is empty.
func (c *Config) Section(name string) Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, _ := c.merged[name].(map[string]any)
	return NewSection(name, m)
}

// OnChange registers fn for configuration changes.
func (c *Config) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Config) notify(changed []string) {
	c.mu.RLock()
	fns := append([]ChangeFunc(nil), c.onChange...)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(changed)
	}
}

// Watch reloads the configuration whenever the file changes.
func (c *Config) Watch() error {
	if c.file == "" {
		return ErrNoFile
	}
	w, err := watcher.New(func(string) {
		if err := c.Reload(); err != nil {
			c.logger.Warn("config reload failed", zap.String("file", c.file), zap.Error(err))
			return
		}
		c.logger.Info("config reloaded", zap.String("file", c.file))
	}, watcher.WithLogger(c.logger))
	if err != nil {
		return err
	}
	if err := w.Watch(c.file); err != nil {
		w.Close()
		return err
	}
	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()
	return nil
}

// Close stops watching.
func (c *Config) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

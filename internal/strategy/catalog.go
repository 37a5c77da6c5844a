package strategy

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"quantcore/internal/logger"
)

// CatalogFile 映射 strategies.yaml。
type CatalogFile struct {
	Strategies []Config `yaml:"strategies"`
}

// CatalogSnapshot 某次加载的策略配置集合。
type CatalogSnapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies []Config
}

// CatalogListener 在策略目录重载后回调。
type CatalogListener func(CatalogSnapshot)

// Catalog 读取策略配置文件，可选监听文件变化。
type Catalog struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  CatalogSnapshot
	listeners []CatalogListener
}

// NewCatalog 加载策略目录，watch 为 true 时文件修改会触发重载并通知订阅者。
func NewCatalog(path string, watch bool) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy catalog requires path")
	}
	c := &Catalog{path: path}
	if err := c.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read strategy catalog failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := c.reload(); err != nil {
				logger.Errorf("strategy catalog reload failed: %v", err)
				return
			}
			c.notifyListeners()
		})
		v.WatchConfig()
		c.v = v
	}
	return c, nil
}

func (c *Catalog) Path() string {
	return c.path
}

// Snapshot 返回当前配置的副本。
func (c *Catalog) Snapshot() CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneCatalogSnapshot(c.snapshot)
}

// Subscribe 注册重载回调。
func (c *Catalog) Subscribe(fn CatalogListener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Reload 手动重新读取并通知订阅者。
func (c *Catalog) Reload() error {
	if err := c.reload(); err != nil {
		return err
	}
	c.notifyListeners()
	return nil
}

func (c *Catalog) reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read strategy catalog failed: %w", err)
	}
	cfgs, err := ParseCatalog(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshot = CatalogSnapshot{
		Version:    c.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: cfgs,
	}
	c.mu.Unlock()
	logger.Infof("[catalog] loaded %d strategies from %s", len(cfgs), filepath.Base(c.path))
	return nil
}

func (c *Catalog) notifyListeners() {
	c.mu.RLock()
	snap := cloneCatalogSnapshot(c.snapshot)
	listeners := append([]CatalogListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		func(cb CatalogListener) {
			defer safeRecover("strategy catalog listener")
			cb(snap)
		}(fn)
	}
}

// ParseCatalog 解析策略目录 YAML，未知字段报错。
func ParseCatalog(r io.Reader) ([]Config, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse strategy catalog failed: %w", err)
	}
	out := make([]Config, 0, len(file.Strategies))
	for i, cfg := range file.Strategies {
		cfg.ID = strings.TrimSpace(cfg.ID)
		cfg.Type = strings.TrimSpace(cfg.Type)
		if cfg.ID == "" {
			return nil, fmt.Errorf("strategy catalog entry %d missing id", i)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func cloneCatalogSnapshot(src CatalogSnapshot) CatalogSnapshot {
	dst := src
	dst.Strategies = append([]Config(nil), src.Strategies...)
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

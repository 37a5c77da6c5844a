package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量覆盖前缀，例如 QUANTCORE_HTTP_ADDR。
const EnvPrefix = "QUANTCORE"

const includeKey = "include"

// Load 读取 path 及其 include 链，被引用的文件先合并、引用方后合并，
// 环境变量优先级最高；随后补默认值并校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	res := newIncludeResolver()
	if err := res.visit(root); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	explicit := make(keySet)
	for _, key := range settingKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
		if _, ok := os.LookupEnv(envName(key)); ok {
			explicit.mark(key)
		}
	}
	for _, src := range res.sources {
		if err := v.MergeConfigMap(src.settings); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", src.path, err)
		}
		for _, key := range src.keys {
			explicit.mark(key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Risk.HoldingPeriod = strings.ToLower(strings.TrimSpace(cfg.Risk.HoldingPeriod))
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在 path 为空时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		if err := validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

type configSource struct {
	path     string
	settings map[string]any
	keys     []string
}

// includeResolver 深度优先展开 include，同一文件只合并一次。
type includeResolver struct {
	sources []configSource
	done    map[string]bool
	active  map[string]bool
}

func newIncludeResolver() *includeResolver {
	return &includeResolver{done: make(map[string]bool), active: make(map[string]bool)}
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	if r.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.done[path] {
		return nil
	}
	r.active[path] = true
	defer delete(r.active, path)

	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	for _, inc := range fv.GetStringSlice(includeKey) {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}

	src := configSource{path: path, settings: fv.AllSettings()}
	delete(src.settings, includeKey)
	for _, key := range fv.AllKeys() {
		if key != includeKey {
			src.keys = append(src.keys, key)
		}
	}
	r.done[path] = true
	r.sources = append(r.sources, src)
	return nil
}

// settingKeys 按 toml 标签列出可由环境变量覆盖的字段路径，map 字段只能在文件里配置。
func settingKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("toml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, settingKeys(f.Type, key)...)
		case reflect.Map:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🔧 配置加载器
// =============================================================================

const defaultEnvPrefix = "KYRONEX"

// Loader 链式构造：NewLoader().WithConfigPath(p).Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{envPrefix: defaultEnvPrefix}
}

// WithConfigPath 文件不存在时保留默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 在环境变量覆盖之后执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.mergeFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv 按 env 标签拼出 PREFIX_SECTION_FIELD，嵌套结构体递归；空值不覆盖
func applyEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}
		raw, ok := lookup(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseInto 支持字符串、整数、Duration（"30s"）、浮点、布尔和逗号分隔的字符串切片
func parseInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(raw, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}

// =============================================================================
// ✅ 校验
// =============================================================================

type rule struct {
	bad bool
	msg string
}

// Validate 汇总所有不合法项
func (c *Config) Validate() error {
	rules := []rule{
		{c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535, "invalid HTTP port"},
		{c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535, "invalid metrics port"},
		{c.LLM.BaseURL == "", "llm.base_url is required"},
		{c.LLM.Temperature < 0 || c.LLM.Temperature > 2, "temperature must be between 0 and 2"},
		{c.LLM.MaxTokens <= 0, "max_tokens must be positive"},
		{c.Speech.Workers <= 0, "speech.workers must be positive"},
		{c.Pipeline.HistoryTurns < 0, "pipeline.history_turns must not be negative"},
		{c.Pipeline.MinSegmentChars < 1, "pipeline.min_segment_chars must be at least 1"},
		{c.Search.Enabled && c.Search.APIKey == "", "search.api_key is required when search is enabled"},
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		rules = append(rules, rule{true, fmt.Sprintf("unsupported database driver %q", c.Database.Driver)})
	}

	var errs []error
	for _, r := range rules {
		if r.bad {
			errs = append(errs, errors.New(r.msg))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

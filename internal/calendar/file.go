package calendar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"barn/internal/logger"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Definition 映射 YAML 日历定义文件中的单个条目。
type Definition struct {
	Kind              string   `yaml:"kind"`
	OpenOffsetMinutes int      `yaml:"open_offset_minutes"`
	MinutesPerSession int      `yaml:"minutes_per_session"`
	Holidays          []string `yaml:"holidays"`
	Aliases           []string `yaml:"aliases"`
}

// FileConfig 映射 calendars 段。
type FileConfig struct {
	Calendars map[string]Definition `yaml:"calendars"`
}

const definitionSchema = `{
	"type": "object",
	"required": ["calendars"],
	"properties": {
		"calendars": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["kind"],
				"properties": {
					"kind": {"enum": ["standard", "always_open", "weekday_24h", "24/7", "24/5"]},
					"open_offset_minutes": {"type": "integer", "minimum": 0, "maximum": 1439},
					"minutes_per_session": {"type": "integer", "minimum": 1, "maximum": 1440},
					"holidays": {"type": "array", "items": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"}},
					"aliases": {"type": "array", "items": {"type": "string", "minLength": 1}}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var compiledDefinitionSchema = mustCompileSchema(definitionSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("calendars.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("calendars.json")
}

// LoadFile 读取 YAML 日历定义文件，先按 JSON Schema 校验再注册进 registry。
// 定义文件里的参数错误在进程启动即失败，不会延迟到对齐阶段。
func LoadFile(r *Registry, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取日历定义失败: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("解析日历定义失败 (%s): %w", path, err)
	}
	if err := validateDefinitionDoc(generic); err != nil {
		return fmt.Errorf("日历定义不合法 (%s): %w", path, err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("解析日历定义失败 (%s): %w", path, err)
	}
	for name, def := range cfg.Calendars {
		cal, err := buildDefinition(name, def)
		if err != nil {
			return err
		}
		if err := r.Register(cal); err != nil {
			return err
		}
		for _, alias := range def.Aliases {
			if err := r.Alias(alias, name); err != nil {
				return err
			}
		}
	}
	logger.Infof("日历定义加载完成: %d 个 (%s)", len(cfg.Calendars), filepath.Base(path))
	return nil
}

// validateDefinitionDoc 将 YAML 泛型结构转成 JSON 值后做 Schema 校验。
func validateDefinitionDoc(doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var jsonDoc any
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return err
	}
	return compiledDefinitionSchema.Validate(jsonDoc)
}

func buildDefinition(name string, def Definition) (Calendar, error) {
	kind, err := ParseKind(def.Kind)
	if err != nil {
		return Calendar{}, fmt.Errorf("日历 %s: %w", name, err)
	}
	offset := time.Duration(def.OpenOffsetMinutes) * time.Minute
	switch kind {
	case KindAlwaysOpen:
		return NewAlwaysOpen(name), nil
	case KindWeekday24h:
		return NewWeekday24h(name, offset), nil
	case KindStandard:
		minutes := def.MinutesPerSession
		if minutes == 0 {
			return Calendar{}, fmt.Errorf("日历 %s: standard 变体必须指定 minutes_per_session", name)
		}
		return NewStandard(name, offset, minutes, def.Holidays)
	default:
		return Calendar{}, fmt.Errorf("日历 %s: 未知变体", name)
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// setRule checks a value before SetByPath assigns it. Values arrive already
// converted to the field's kind (string, bool, int64, float64, []string).
type setRule func(v any) error

var backgroundPattern = regexp.MustCompile(`^(transparent|#[0-9a-fA-F]{6})$`)

// setRules mirror Validate for the fields that have a closed set of values.
// A "*" segment matches any map key.
var setRules = map[string]setRule{
	"general.logLevel":              oneOf("debug", "info", "warn", "error"),
	"general.prefix":                prefixRule,
	"general.maxConcurrentMessages": intRange(1, 100),
	"sticker.quality":               intRange(1, 100),
	"sticker.background":            matches(backgroundPattern, `"transparent" or #rrggbb`),
	"dispatch.groupGuard":           oneOf(GuardOwnerInGroup, GuardLiteral),
	"reconnect.initialBackoffMs":    intRange(1, 3_600_000),
	"reconnect.multiplier":          atLeast(1),
	"ai.providers.*.kind":           oneOf("gemini", "openai", "claude", "ollama"),
	"ai.rateLimitPerMinute":         intRange(0, 10_000),
	"ai.timeoutSeconds":             intRange(1, 3600),
}

// GetByPath retrieves a config value by dot-notation path (e.g. "sticker.quality").
// Numeric segments index into lists.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%s: %T has no field %q", path, current, key)
		}
	}
	return current, nil
}

// SetByPath assigns a value by dot-notation path. String values are converted
// to the type of the target field (lists are comma separated) and checked
// against the field's allowed values. Unknown paths are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	target, err := fieldType(path)
	if err != nil {
		return err
	}
	typed, err := coerce(target, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if rule := ruleFor(path); rule != nil {
		if err := rule(typed); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			// Missing sections are omitempty fields or new map entries.
			child = make(map[string]any)
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = typed

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fieldType resolves path against the Config struct using its json tags.
func fieldType(path string) (reflect.Type, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	t := reflect.TypeOf(Config{})
	for _, key := range strings.Split(path, ".") {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := fieldByJSONName(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown config key: %s", path)
			}
			t = f.Type
		case reflect.Map:
			t = t.Elem()
		default:
			return nil, fmt.Errorf("unknown config key: %s (%s has no sub-keys)", path, t.Kind())
		}
	}
	return t, nil
}

func fieldByJSONName(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// coerce converts a command-line string to the kind of t. Non-string values
// are passed through for json to check.
func coerce(t reflect.Type, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch t.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expects true or false, got %q", s)
		}
		return b, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expects an integer, got %q", s)
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expects a number, got %q", s)
		}
		return f, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			items := []string{}
			for _, item := range strings.Split(s, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			return items, nil
		}
	}
	return nil, fmt.Errorf("is a section; set one of its fields")
}

func ruleFor(path string) setRule {
	parts := strings.Split(path, ".")
	for pattern, rule := range setRules {
		pp := strings.Split(pattern, ".")
		if len(pp) != len(parts) {
			continue
		}
		match := true
		for i := range pp {
			if pp[i] != "*" && pp[i] != parts[i] {
				match = false
				break
			}
		}
		if match {
			return rule
		}
	}
	return nil
}

func oneOf(allowed ...string) setRule {
	return func(v any) error {
		s, _ := v.(string)
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	}
	return 0, false
}

func intRange(lo, hi int64) setRule {
	return func(v any) error {
		n, ok := asInt(v)
		if !ok || n < lo || n > hi {
			return fmt.Errorf("must be an integer between %d and %d", lo, hi)
		}
		return nil
	}
}

func atLeast(lo float64) setRule {
	return func(v any) error {
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		case int:
			f = float64(n)
		default:
			return fmt.Errorf("must be a number >= %g", lo)
		}
		if f < lo {
			return fmt.Errorf("must be >= %g", lo)
		}
		return nil
	}
}

func matches(re *regexp.Regexp, desc string) setRule {
	return func(v any) error {
		if s, _ := v.(string); re.MatchString(s) {
			return nil
		}
		return fmt.Errorf("must be %s", desc)
	}
}

func prefixRule(v any) error {
	if s, _ := v.(string); validPrefix(s) {
		return nil
	}
	return fmt.Errorf("must be a single non-word, non-space character")
}

// Sanitize returns a copy of the config with every field tagged
// `secret:"true"` masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}
	maskSecrets(reflect.ValueOf(&out).Elem())
	return &out
}

func maskSecrets(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			maskSecrets(v.Elem())
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			f := v.Field(i)
			if sf.Tag.Get("secret") == "true" && f.Kind() == reflect.String {
				if s := f.String(); s != "" {
					f.SetString(maskString(s))
				}
				continue
			}
			maskSecrets(f)
		}
	case reflect.Map:
		// Map values are not addressable; mask a copy and store it back.
		for _, k := range v.MapKeys() {
			elem := reflect.New(v.Type().Elem()).Elem()
			elem.Set(v.MapIndex(k))
			maskSecrets(elem)
			v.SetMapIndex(k, elem)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			maskSecrets(v.Index(i))
		}
	}
}

// maskString keeps the first and last 4 characters of longer secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dotted paths and their values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		out[path] = v
	}
}

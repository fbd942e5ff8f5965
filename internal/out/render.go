package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
)

// Render writes the envelope as indented JSON or as plain key=value lines.
func Render(w io.Writer, env model.Envelope, outputMode string) error {
	if outputMode == "json" || outputMode == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	plain := map[string]any{
		"success": env.Success,
		"data":    env.Data,
		"meta":    env.Meta,
	}
	if len(env.Warnings) > 0 {
		plain["warnings"] = env.Warnings
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func normalizeValue(value any) any {
	buf, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return value
	}
	return out
}

func toLine(value any) (string, error) {
	m, ok := value.(map[string]any)
	if !ok {
		buf, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		buf, err := json.Marshal(m[k])
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, string(buf)))
	}
	return strings.Join(parts, " "), nil
}

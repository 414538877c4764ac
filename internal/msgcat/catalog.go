// Package msgcat renders relay message text from YAML templates.
package msgcat

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var builtin embed.FS

// Catalog maps dotted keys ("game.move") to parsed templates. It is
// immutable once built.
type Catalog struct {
	tmpl map[string]*template.Template
}

// New layers *.yaml / *.yml files from overrideDir over the built-in
// messages. Two override files defining the same key is an error.
func New(overrideDir string) (*Catalog, error) {
	sources, err := readLayer(builtin, nil)
	if err != nil {
		return nil, fmt.Errorf("builtin messages: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		overrides, err := readLayer(os.DirFS(dir), sources)
		if err != nil {
			return nil, fmt.Errorf("message overrides in %s: %w", dir, err)
		}
		for k, v := range overrides {
			sources[k] = v
		}
	}

	c := &Catalog{tmpl: make(map[string]*template.Template, len(sources))}
	for key, src := range sources {
		t, err := template.New(key).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", key, err)
		}
		c.tmpl[key] = t
	}
	return c, nil
}

// readLayer flattens every YAML file at the root of fsys. base is only used
// to tell overrides from fresh keys in error messages.
func readLayer(fsys fs.FS, base map[string]string) (map[string]string, error) {
	names, err := fs.Glob(fsys, "*.y*ml")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	out := make(map[string]string)
	origin := make(map[string]string)
	for _, name := range names {
		if ext := path.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := walk(doc, "", func(key, src string) error {
			if prev, dup := origin[key]; dup {
				return fmt.Errorf("key %q defined in both %s and %s", key, prev, name)
			}
			if base != nil {
				if _, known := base[key]; !known {
					return fmt.Errorf("%s: unknown key %q", name, key)
				}
			}
			origin[key] = name
			out[key] = src
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walk(node any, prefix string, leaf func(key, src string) error) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(child, key, leaf); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return fmt.Errorf("bare string at document root")
		}
		return leaf(prefix, v)
	case nil:
	default:
		return fmt.Errorf("%s: expected string or mapping, got %T", prefix, v)
	}
	return nil
}

// Keys lists the catalog keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.tmpl))
	for k := range c.tmpl {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Render executes the template under key. A field missing from data fails
// rather than rendering "<no value>".
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.tmpl[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

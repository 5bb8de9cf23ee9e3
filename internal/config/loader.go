package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file and expands environment variables
// inside the module sections. Expansion runs over the parsed config tree,
// not the raw bytes, so unresolved variables are reported with the module
// config key they live under (e.g. modules.storage.postgres.url).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	var errs []error
	for id := range cfg.Modules {
		node := cfg.Modules[id]
		expandNode(&node, "modules."+id, &errs)
		cfg.Modules[id] = node
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	return &cfg, nil
}

// expandNode walks a module's YAML tree and expands scalar values in place,
// carrying the dotted key path for error reporting.
func expandNode(n *yaml.Node, path string, errs *[]error) {
	switch n.Kind {
	case yaml.ScalarNode:
		expanded, changed := expandValue(n.Value, path, errs)
		if changed {
			n.Value = expanded
			// Let the module's Decode re-infer the type: a substituted
			// "${PORT:-5432}" should still decode as an int.
			n.Tag = ""
			n.Style = 0
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			expandNode(n.Content[i+1], path+"."+n.Content[i].Value, errs)
		}
	case yaml.SequenceNode:
		for i, child := range n.Content {
			expandNode(child, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	case yaml.DocumentNode:
		for _, child := range n.Content {
			expandNode(child, path, errs)
		}
	}
}

// expandValue replaces ${VAR} and ${VAR:-default} patterns in one scalar.
// Variables with neither an environment value nor a default are collected
// as errors naming the config key.
func expandValue(value, path string, errs *[]error) (string, bool) {
	changed := false
	result := envPattern.ReplaceAllStringFunc(value, func(match string) string {
		subs := envPattern.FindStringSubmatch(match)
		name := subs[1]

		if v, ok := os.LookupEnv(name); ok {
			changed = true
			return v
		}
		// "${VAR}" is exactly name+3 bytes; anything longer carries a
		// ":-default", which may itself be empty.
		if len(subs[0]) > len(name)+3 {
			changed = true
			return subs[2]
		}

		*errs = append(*errs, fmt.Errorf("%s: unresolved variable %s", path, name))
		return match
	})
	return result, changed
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// readManifestTree loads the manifest at path with its includes merged
// beneath it. Later documents override earlier ones key by key, and the
// including document always wins over what it includes.
func readManifestTree(path string) (map[string]any, []string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	return resolveIncludes(absPath, nil)
}

func resolveIncludes(path string, chain []string) (map[string]any, []string, error) {
	if idx := indexOfPath(chain, path); idx >= 0 {
		cycle := append(append([]string{}, chain[idx:]...), path)
		return nil, nil, fmt.Errorf("detected include cycle: %s", strings.Join(cycle, " -> "))
	}
	chain = append(chain, path)

	doc, refs, err := readDocument(path, len(chain) == 1)
	if err != nil {
		return nil, nil, err
	}

	merged := make(map[string]any)
	var resolved []string
	for _, ref := range refs {
		includePath, err := resolveIncludePath(path, ref)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: include %q: %w", path, ref, err)
		}
		child, _, err := resolveIncludes(includePath, chain)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: include %q: %w", path, ref, err)
		}
		merged = mergeYAMLMaps(merged, child)
		resolved = append(resolved, includePath)
	}
	return mergeYAMLMaps(merged, doc), resolved, nil
}

func readDocument(path string, root bool) (map[string]any, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if root {
			return nil, nil, fmt.Errorf("open manifest: %w", err)
		}
		return nil, nil, fmt.Errorf("open include file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%s: decode: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}

	refs, err := extractIncludes(path, raw)
	if err != nil {
		return nil, nil, err
	}
	delete(raw, "includes")
	expandYAMLValues(raw)
	return raw, refs, nil
}

func extractIncludes(path string, raw map[string]any) ([]string, error) {
	value, ok := raw["includes"]
	if !ok || value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: includes must be a list of strings", path)
	}
	refs := make([]string, 0, len(list))
	for i, entry := range list {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%s: includes[%d] must be a string", path, i)
		}
		refs = append(refs, expandEnvWithDefault(s))
	}
	return refs, nil
}

func resolveIncludePath(parent, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("include path is empty")
	}
	if looksLikeURL(ref) {
		return "", fmt.Errorf("remote include %q is not supported", ref)
	}
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(parent), ref)
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("resolve include path: %w", err)
	}
	return abs, nil
}

func looksLikeURL(path string) bool {
	if !strings.Contains(path, "://") {
		return false
	}
	u, err := url.Parse(path)
	return err == nil && u.Scheme != ""
}

func mergeYAMLMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if srcMap, ok := src[key].(map[string]any); ok {
			dstMap, _ := dst[key].(map[string]any)
			dst[key] = mergeYAMLMaps(dstMap, srcMap)
			continue
		}
		dst[key] = cloneValue(src[key])
	}
	return dst
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return mergeYAMLMaps(nil, typed)
	case []any:
		cloned := make([]any, len(typed))
		for i, v := range typed {
			cloned[i] = cloneValue(v)
		}
		return cloned
	default:
		return typed
	}
}

func expandYAMLValues(doc map[string]any) {
	for key, value := range doc {
		doc[key] = expandValue(value)
	}
}

func expandValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		expandYAMLValues(typed)
		return typed
	case []any:
		for i, elem := range typed {
			typed[i] = expandValue(elem)
		}
		return typed
	case string:
		return expandEnvWithDefault(typed)
	default:
		return value
	}
}

// expandEnvWithDefault expands $VAR, ${VAR} and ${VAR:-fallback}. The
// fallback applies when VAR is unset or empty.
func expandEnvWithDefault(s string) string {
	return os.Expand(s, func(name string) string {
		if key, fallback, ok := strings.Cut(name, ":-"); ok {
			if v := os.Getenv(key); v != "" {
				return v
			}
			return fallback
		}
		return os.Getenv(name)
	})
}

func indexOfPath(paths []string, target string) int {
	for i, p := range paths {
		if p == target {
			return i
		}
	}
	return -1
}

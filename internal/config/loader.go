package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultManifestName is looked up in the working directory when no path is
// given.
const DefaultManifestName = "launcher.yaml"

// Load reads a launcher manifest from the provided path, merges includes,
// validates it against the embedded schema, applies SERVERLAUNCH_* overrides
// and defaults, then enforces semantic invariants.
func Load(path string) (*Manifest, error) {
	if path == "" {
		path = DefaultManifestName
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	tree, includes, err := readManifestTree(absPath)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(tree); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	doc, err := decodeManifest(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	doc.Path = absPath
	doc.Includes = includes

	if err := applyEnvOverrides(doc, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := resolvePaths(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := doc.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return doc, nil
}

func decodeManifest(tree map[string]any) (*Manifest, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// resolvePaths anchors relative paths: the server workdir and log file to the
// manifest directory, envFromFile to the resolved workdir. Env values from the
// file are overridden by inline env entries.
func resolvePaths(doc *Manifest) error {
	baseDir := filepath.Dir(doc.Path)
	doc.Server.Workdir = resolveWorkdir(baseDir, doc.Server.Workdir)

	if doc.Logging.File != "" && !filepath.IsAbs(doc.Logging.File) {
		doc.Logging.File = filepath.Clean(filepath.Join(baseDir, doc.Logging.File))
	}
	if doc.LockFile != "" && !filepath.IsAbs(doc.LockFile) {
		doc.LockFile = filepath.Clean(filepath.Join(baseDir, doc.LockFile))
	}

	var fileEnv map[string]string
	if doc.Server.EnvFromFile != "" {
		envPath := doc.Server.EnvFromFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Clean(filepath.Join(doc.Server.Workdir, envPath))
		}
		doc.Server.EnvFromFile = envPath

		var err error
		fileEnv, err = loadEnvFile(envPath)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldPath("server", "envFromFile"), err)
		}
	}

	if len(fileEnv) == 0 && len(doc.Server.Env) == 0 {
		doc.Server.Env = nil
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(doc.Server.Env))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range doc.Server.Env {
		merged[k] = v
	}
	doc.Server.Env = merged
	return nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

// Encode renders the manifest as YAML.
func Encode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(m); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

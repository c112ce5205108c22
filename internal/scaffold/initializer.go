// Package scaffold writes a starter reelforge.yml for a new deployment.
package scaffold

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/reelforge/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the generated configuration file.
const ConfigFile = "reelforge.yml"

// DataDir holds the SQLite database of a scaffolded deployment.
const DataDir = "data"

// Options fills the configuration template.
type Options struct {
	Namespace    string
	RedisURL     string
	DatabasePath string // relative paths resolve against the working directory
}

func (o *Options) applyDefaults() {
	if o.Namespace == "" {
		o.Namespace = "default"
	}
	if o.RedisURL == "" {
		o.RedisURL = "redis://localhost:6379/0"
	}
	if o.DatabasePath == "" {
		o.DatabasePath = filepath.Join(DataDir, "reelforge.db")
	}
}

// CheckExisting returns an error if dir already holds a reelforge.yml.
func CheckExisting(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		return fmt.Errorf("deployment already initialized\n\nFound existing: %s\n\nUse 'reelforge init --force' to reinitialize (this will overwrite existing configuration)", ConfigFile)
	}
	return nil
}

// Initialize writes reelforge.yml and the data directory into dir and
// returns the created paths relative to dir. Without force an existing
// configuration is an error.
func Initialize(dir string, opts Options, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}
	opts.applyDefaults()

	content, err := Render(opts)
	if err != nil {
		return nil, err
	}

	// Validate before touching the filesystem
	if _, err := config.Parse(content); err != nil {
		return nil, fmt.Errorf("generated %s is invalid: %w", ConfigFile, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, DataDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", DataDir, err)
	}
	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", ConfigFile, err)
	}
	return []string{ConfigFile, DataDir + "/"}, nil
}

// Render fills the embedded template.
func Render(opts Options) ([]byte, error) {
	opts.applyDefaults()
	raw, err := templatesFS.ReadFile("templates/reelforge.yml.tmpl")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("configuration template missing from build")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tmpl, err := template.New(ConfigFile).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return buf.Bytes(), nil
}

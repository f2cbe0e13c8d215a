package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dargueta/flashfs/geometry"
	"github.com/dargueta/flashfs/imagefile"
	"gopkg.in/yaml.v3"
)

// Config is read from the file given by --config. Every field is optional;
// command-line flags take precedence.
type Config struct {
	// Preset names the flash part `format` creates an image for when the image
	// doesn't exist yet.
	Preset string `yaml:"preset"`

	// Codec is how images are compressed when saved. If unset, images keep the
	// codec they were loaded with, and new images are stored uncompressed.
	Codec *imagefile.Codec `yaml:"codec"`

	// Hints are passed to geometry negotiation.
	Hints geometry.Hints `yaml:"hints"`

	// MaxOpenFiles limits how many files the engine keeps open at once. Zero
	// means the engine's default.
	MaxOpenFiles int `yaml:"max_open_files"`
}

// loadConfig reads a config file. An empty path gives the zero config.
// Unknown keys are an error so typos don't go unnoticed.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	err = decoder.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

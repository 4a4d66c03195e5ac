package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// readLayer unmarshals one config file into out. Returns false when the file
// does not exist; any other failure is an error.
func readLayer[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(contents, out)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// ReadConfig loads a json5 configuration file plus an optional
// `<name>.local.<ext>` sibling whose values take priority (merged with
// mergo.WithOverride). Returns os.ErrNotExist when neither file is present.
func ReadConfig[T any](name string) (T, error) {
	var base T
	foundBase, err := readLayer(name, &base)
	if err != nil {
		return base, err
	}

	var local T
	localPath := localName(name)
	foundLocal, err := readLayer(localPath, &local)
	if err != nil {
		return base, err
	}
	if foundLocal {
		err = mergo.Merge(&base, local, mergo.WithOverride)
		if err != nil {
			return base, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !foundBase && !foundLocal {
		return base, os.ErrNotExist
	}
	return base, nil
}

// ReadRecursively is ReadConfig but it walks up the filesystem from the
// working directory until the root to find a configuration file matching the
// name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	root, err := filepath.Abs("/")
	if err != nil {
		return defaultOut, err
	}
	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for current != root {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			current = filepath.Join(current, "..")
			continue
		}
		if err != nil {
			return defaultOut, err
		}

		return config, nil
	}

	return defaultOut, os.ErrNotExist
}

// Package setup holds the catalog of optional pre-execution scripts.
//
// The catalog is built once at startup by scanning a directory. Each regular
// file becomes one entry whose id is the file name without its extension,
// e.g. "setup/aplusb.sh" is selected by {"chall": "aplusb"}.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Blank is the script used when no setup id is given or the id is unknown.
var Blank = []byte("#!/bin/sh\n")

// Catalog maps setup ids to files inside one directory. It is read-only
// after Scan returns and safe for concurrent use.
type Catalog struct {
	dir   string
	files map[string]string // id -> file name
}

// Scan builds a Catalog from dir. A missing directory yields an empty
// catalog; any other read error is returned.
func Scan(dir string, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{dir: dir, files: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("setup script directory does not exist, continuing without setup scripts",
				slog.String("dir", dir),
			)
			return c, nil
		}
		return nil, fmt.Errorf("setup: scanning %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if id == "" {
			continue
		}
		c.files[id] = name
	}

	logger.Info("setup scripts loaded", slog.String("dir", dir), slog.Int("count", len(c.files)))
	return c, nil
}

// Files returns a copy of the id -> file name mapping.
func (c *Catalog) Files() map[string]string {
	out := make(map[string]string, len(c.files))
	for id, name := range c.files {
		out[id] = name
	}
	return out
}

// Contents returns the script for id, or Blank when id is empty, unknown,
// or the file can no longer be read.
func (c *Catalog) Contents(id string) []byte {
	name, ok := c.files[id]
	if !ok {
		return Blank
	}
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return Blank
	}
	return data
}

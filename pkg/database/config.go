package database

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/pakt/internal/logger"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/paths"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// layerConfig is one database layer configuration file: a YAML document
// naming the layer's root directory.
type layerConfig struct {
	Root string `yaml:"root"`
}

// Load constructs a MultiDB from the per-layer configuration files in the
// resolver's database configuration directory. Files are read in sorted
// order, which defines layer precedence; a malformed file is logged and
// skipped rather than failing the whole stack. extraRoot, when non-empty, is
// stacked on top as the overlay.
func Load(resolver *paths.Resolver, accounts *sysusers.Resolver, liveness Liveness, extraRoot string) (*MultiDB, error) {
	db := NewMultiDB(resolver.ServiceUser(), accounts, liveness)
	names, err := fsutil.ListDirSorted(resolver.DBConfigDir())
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		path := filepath.Join(resolver.DBConfigDir(), name)
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable database config",
				logger.Fields{"path": path, "error": err.Error()})
			continue
		}
		var cfg layerConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil || cfg.Root == "" {
			logger.Warn("skipping malformed database config",
				logger.Fields{"path": path})
			continue
		}
		db.Add(cfg.Root)
	}
	if extraRoot != "" {
		db.Add(extraRoot)
	}
	return db, nil
}

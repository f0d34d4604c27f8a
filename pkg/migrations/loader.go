// Package migrations provides database migration loading and execution.
package migrations

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction string // "up" or "down"
	FilePath  string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// LoadMigrationsFromDir loads migrations from a directory.
func LoadMigrationsFromDir(dir string, direction string) ([]Migration, error) {
	var migrations []Migration

	suffix := fmt.Sprintf(".%s.sql", direction)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, suffix) {
			return nil
		}

		filename := filepath.Base(path)
		// Parse filename: 000001_extensions.up.sql -> version=000001, name=extensions
		baseName := strings.TrimSuffix(filename, suffix)
		parts := strings.SplitN(baseName, "_", 2)
		if len(parts) != 2 {
			return nil // Skip invalid filenames
		}

		migrations = append(migrations, Migration{
			Version:   parts[0],
			Name:      parts[1],
			Direction: direction,
			FilePath:  path,
		})

		return nil
	})

	if err != nil {
		return nil, err
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ReadMigrationContent reads the content of a migration file.
func ReadMigrationContent(m Migration) ([]byte, error) {
	return os.ReadFile(m.FilePath)
}

// GetMigrationVersions returns all migration versions from a list.
func GetMigrationVersions(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}

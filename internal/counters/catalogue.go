package counters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// loadCatalogueFile resolves path against the current working directory
// and up to three parent directories, then parses it as a UTF-8 JSON
// array. A relative path that resolves to no existing file returns
// (nil, nil): the caller degrades to an empty catalogue with a
// warning. An absolute path that does not exist is fatal.
func loadCatalogueFile(path string) ([]map[string]any, error) {
	resolved, found, err := resolveCatalogueFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("counters: reading catalogue file %q: %w", resolved, err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("counters: parsing catalogue file %q: %w", resolved, err)
	}
	return raw, nil
}

// resolveCatalogueFile locates path. An absolute path must exist.
// A relative path is tried against the current working directory, then
// up to three parent directories; the first existing candidate wins.
func resolveCatalogueFile(path string) (resolved string, found bool, err error) {
	if filepath.IsAbs(path) {
		if _, statErr := os.Stat(path); statErr != nil {
			return "", false, fmt.Errorf("counters: catalogue file %q: %w", path, statErr)
		}
		return path, true, nil
	}

	candidates := []string{
		path,
		filepath.Join("..", path),
		filepath.Join("..", "..", path),
		filepath.Join("..", "..", "..", path),
	}
	for _, c := range candidates {
		if _, statErr := os.Stat(c); statErr == nil {
			return c, true, nil
		}
	}
	return "", false, nil
}

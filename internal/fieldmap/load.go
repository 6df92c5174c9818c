package fieldmap

import (
	"encoding/json"
	"os"
)

// LoadRules reads a UTF-8 JSON array of {dst, shortDst} pairs from path.
// A missing file or parse error yields an empty rule list and a non-nil
// error the caller should log as a warning, not treat as fatal - per the
// external-interfaces contract, an absent name-map file degrades to an
// empty map.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

package loader

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// pairsFile is the YAML layout read by LoadPairs:
//
//	pairs:
//	  - dest: fc6.fc
//	    legacy: fc6
//	  - dest: fc7.fc
//	    legacy: fc7
type pairsFile struct {
	Pairs []Pair `yaml:"pairs"`
}

// LoadPairs reads fully connected pairs from a YAML file.
func LoadPairs(path string) ([]Pair, error) {
	//nolint:gosec // G304: path is supplied by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pairs %q", path)
	}
	return ParsePairs(data)
}

// ParsePairs decodes the YAML pairs layout.
func ParsePairs(data []byte) ([]Pair, error) {
	var f pairsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse pairs")
	}
	seen := make(map[string]bool, len(f.Pairs))
	for i, p := range f.Pairs {
		if p.Dest == "" || p.Legacy == "" {
			return nil, errors.Errorf("pair %d: dest and legacy are required", i)
		}
		if seen[p.Dest] {
			return nil, errors.Errorf("pair %d: duplicate dest %q", i, p.Dest)
		}
		seen[p.Dest] = true
	}
	return f.Pairs, nil
}

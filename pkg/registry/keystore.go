package registry

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/cryptox"
)

// FileKeySource is the KeySource config.Config.MasterKeyPath backs: a flat
// YAML file mapping account ID to its hex-encoded 32-byte master key,
// loaded once at startup and held in memory for the life of the process.
type FileKeySource struct {
	keys map[uint64][]byte
}

// LoadFileKeySource reads and validates every key in path.
func LoadFileKeySource(path string) (*FileKeySource, error) {
	const op = "registry.LoadFileKeySource"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, berr.New(berr.CodeOutOfSpace, op, err)
	}

	var raw map[uint64]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, berr.New(berr.CodeUnknown, op, err)
	}

	keys := make(map[uint64][]byte, len(raw))
	for id, hexKey := range raw {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, berr.New(berr.CodeUnknown, op, fmt.Errorf("account %d: %w", id, err))
		}
		if len(key) != cryptox.KeySize {
			return nil, berr.New(berr.CodeUnknown, op, fmt.Errorf("account %d: key must be %d bytes, got %d", id, cryptox.KeySize, len(key)))
		}
		keys[id] = key
	}
	return &FileKeySource{keys: keys}, nil
}

// MasterKey implements KeySource.
func (f *FileKeySource) MasterKey(accountID uint64) ([]byte, error) {
	const op = "registry.FileKeySource.MasterKey"
	key, ok := f.keys[accountID]
	if !ok {
		return nil, berr.New(berr.CodeObjectNotFound, op, fmt.Errorf("no master key for account %d", accountID))
	}
	return key, nil
}

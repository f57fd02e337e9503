package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const OpenbookV2ProgramName = "openbook_v2"

var defaultOpenbookV2ProgramID = solana.MustPublicKeyFromBase58("opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb")

// ProgramEntry is one row of the static program registry file.
type ProgramEntry struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	ProgramKeyPath string `json:"programKeyPath"`
}

type ProgramDescriptor struct {
	Name      string
	ProgramID solana.PublicKey
}

// LoadProgramRegistry reads the registry at path. Entries without an id are
// resolved from their program keypair file, relative paths being taken from
// the registry's directory. When the registry is missing and was not asked
// for explicitly, the public openbook_v2 deployment is used.
func LoadProgramRegistry(path string, explicit bool) ([]ProgramDescriptor, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return []ProgramDescriptor{{Name: OpenbookV2ProgramName, ProgramID: defaultOpenbookV2ProgramID}}, nil
		}
		return nil, fmt.Errorf("%w: read program registry %q: %v", ErrInvalid, path, err)
	}

	var entries []ProgramEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse program registry %q: %v", ErrInvalid, path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: program registry %q is empty", ErrInvalid, path)
	}

	baseDir := filepath.Dir(path)
	out := make([]ProgramDescriptor, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: program registry %q has an entry without name", ErrInvalid, path)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: program %q listed twice in %q", ErrInvalid, name, path)
		}
		seen[name] = struct{}{}

		programID, err := resolveProgramID(entry, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%w: program %q: %v", ErrInvalid, name, err)
		}
		out = append(out, ProgramDescriptor{Name: name, ProgramID: programID})
	}
	return out, nil
}

func resolveProgramID(entry ProgramEntry, baseDir string) (solana.PublicKey, error) {
	if id := strings.TrimSpace(entry.ID); id != "" {
		pk, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid id: %w", err)
		}
		return pk, nil
	}

	keyPath := strings.TrimSpace(entry.ProgramKeyPath)
	if keyPath == "" {
		return solana.PublicKey{}, fmt.Errorf("either id or programKeyPath is required")
	}
	keyPath, err := expandHomePath(keyPath)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !filepath.IsAbs(keyPath) {
		keyPath = filepath.Join(baseDir, keyPath)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(keyPath)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("load program keypair %q: %w", keyPath, err)
	}
	return key.PublicKey(), nil
}

// FindProgram returns the descriptor registered under name.
func FindProgram(programs []ProgramDescriptor, name string) (ProgramDescriptor, error) {
	for _, program := range programs {
		if program.Name == name {
			return program, nil
		}
	}
	return ProgramDescriptor{}, fmt.Errorf("%w: program %q missing from registry", ErrInvalid, name)
}

func LoadAuthority(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load authority keypair %q: %v", ErrInvalid, path, err)
	}
	return key, nil
}

package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABI reads a bare ABI JSON array from disk and parses it.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read ABI file %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(data)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI file %s: %w", path, err)
	}
	return parsed, nil
}

// hardhatArtifact is the subset of a Hardhat compilation artifact this
// codebase needs: the "abi" field, everything else (bytecode, source map) is
// ignored.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads a full Hardhat artifact JSON file and
// extracts just its "abi" field.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no abi field", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse abi field of %s: %w", path, err)
	}
	return parsed, nil
}

package harness

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// BinArtifact is one hex-decoded constructor blob, keyed by the path stem it
// shares with its ABI.
type BinArtifact struct {
	Stem string
	Code []byte
}

// ArtifactSet is everything a glob pattern matched: parsed ABIs by stem and
// constructor bytecode in glob order.
type ArtifactSet struct {
	ABIs map[string]abi.ABI
	Bins []BinArtifact
}

// LoadContextABI reads the ABI describing the reflective helpers served at
// the context address. It must be present for any run.
func LoadContextABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("context abi: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("context abi %s: %w", path, err)
	}
	return parsed, nil
}

// LoadArtifacts expands the glob and loads every *.abi and *.bin it matches.
// Bin files are ASCII hex, optionally 0x-prefixed, trailing whitespace
// tolerated. Anything malformed is a configuration fault.
func LoadArtifacts(pattern string) (*ArtifactSet, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	set := &ArtifactSet{ABIs: make(map[string]abi.ABI)}
	for _, path := range matches {
		switch {
		case strings.HasSuffix(path, ".abi"):
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			parsed, err := abi.JSON(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("abi %s: %w", path, err)
			}
			set.ABIs[strings.TrimSuffix(path, ".abi")] = parsed

		case strings.HasSuffix(path, ".bin"):
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			text := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
			code, err := hex.DecodeString(text)
			if err != nil {
				return nil, fmt.Errorf("bin %s: %w", path, err)
			}
			set.Bins = append(set.Bins, BinArtifact{
				Stem: strings.TrimSuffix(path, ".bin"),
				Code: code,
			})
		}
	}

	return set, nil
}

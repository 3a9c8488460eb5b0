package fdt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseBoard decodes a YAML board description.
func ParseBoard(data []byte) (Board, error) {
	var bd Board
	if err := yaml.Unmarshal(data, &bd); err != nil {
		return Board{}, fmt.Errorf("parse board: %w", err)
	}
	return bd, nil
}

// LoadBoard reads a YAML board description from disk.
func LoadBoard(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("read board %s: %w", path, err)
	}
	bd, err := ParseBoard(data)
	if err != nil {
		return Board{}, fmt.Errorf("%s: %w", path, err)
	}
	return bd, nil
}

// MarshalBoard encodes a board description as YAML.
func MarshalBoard(bd Board) ([]byte, error) {
	out, err := yaml.Marshal(&bd)
	if err != nil {
		return nil, fmt.Errorf("encode board: %w", err)
	}
	return out, nil
}

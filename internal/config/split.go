// Package config implements the boundary configuration types: the JSON
// --split file schema and the options a driver collects from the command
// line before invoking the core pipeline.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// MainFunction is the name always registered at code section 0, PC 0,
// regardless of what (if anything) the split file contains.
const MainFunction = "main"

// splitFile mirrors the on-disk JSON schema:
//
//	{ "functions": { "name": "0xHEX_PC", ... } }
type splitFile struct {
	Functions map[string]string `json:"functions"`
}

// Roots maps a root PC to the method name the driver should use for it.
type Roots map[int]string

// LoadSplit reads and parses the --split JSON file at path, always
// registering "main" at PC 0 in addition to whatever the file itself
// names. An empty path yields just the default "main" root.
func LoadSplit(path string) (Roots, error) {
	roots := Roots{0: MainFunction}
	if path == "" {
		return roots, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(path + ", " + err.Error())
	}
	var sf splitFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("config: malformed split file %s: %w", path, err)
	}
	for name, hexPC := range sf.Functions {
		pc, err := parseHexPC(hexPC)
		if err != nil {
			return nil, fmt.Errorf("config: split file %s: function %q: %w", path, name, err)
		}
		roots[pc] = name
	}
	return roots, nil
}

func parseHexPC(s string) (int, error) {
	var pc int
	if _, err := fmt.Sscanf(s, "0x%x", &pc); err == nil {
		return pc, nil
	}
	if _, err := fmt.Sscanf(s, "%d", &pc); err == nil {
		return pc, nil
	}
	return 0, fmt.Errorf("not a hex or decimal PC: %q", s)
}

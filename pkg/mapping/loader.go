package mapping

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FormulaValidator checks a formula and returns the variables it references
type FormulaValidator func(formula string) ([]string, error)

// LoadTable reads and validates a site mapping file
func LoadTable(path string, validateFormula FormulaValidator) (*Table, error) {
	// #nosec G304 - path comes from the engine configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read mapping file %s: %w", path, err)
	}

	table, err := ParseTable(data, validateFormula)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return table, nil
}

// ParseTable decodes a mapping document, rejecting unknown keys
func ParseTable(data []byte, validateFormula FormulaValidator) (*Table, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var table Table
	if err := decoder.Decode(&table); err != nil {
		return nil, fmt.Errorf("error parsing mapping table: %w", err)
	}

	if err := table.Validate(validateFormula); err != nil {
		return nil, err
	}
	return &table, nil
}

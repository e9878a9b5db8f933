package network

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/Masterminds/semver/v3"
)

// SupportedFormat is the range of case file format versions this package reads.
const SupportedFormat = ">= 1.0, < 2.0"

// LoadCase reads a JSON case file.
func LoadCase(path string) (*Network, error) {
	jsonCase, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n, err := Parse(jsonCase)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", path, err)
	}
	return n, nil
}

// Parse decodes and validates a JSON case.
func Parse(jsonCase []byte) (*Network, error) {
	n := &Network{}
	if err := json.Unmarshal(jsonCase, n); err != nil {
		return nil, err
	}
	if err := CheckFormat(n.FormatVersion); err != nil {
		return nil, err
	}
	if n.BaseMVA == 0 {
		n.BaseMVA = 100
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// CheckFormat verifies that a case format version is readable.
func CheckFormat(version string) error {
	if version == "" {
		return fmt.Errorf("missing FormatVersion, want %s", SupportedFormat)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("FormatVersion %q: %w", version, err)
	}
	c, err := semver.NewConstraint(SupportedFormat)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("FormatVersion %s not in %s", v, SupportedFormat)
	}
	return nil
}

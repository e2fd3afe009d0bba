package normalize

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var aliasesYAML []byte

// complianceAlias maps one raw parameter name onto a canonical compliance field.
type complianceAlias struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
}

// specAlias maps one raw parameter name onto a controlled spec key.
type specAlias struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// aliasTable is the parsed alias configuration. Order is preserved from
// the yaml declaration so conflict resolution is deterministic.
type aliasTable struct {
	Compliance []complianceAlias `yaml:"compliance"`
	Specs      []specAlias       `yaml:"specs"`
}

var table = mustLoadAliases()

func mustLoadAliases() aliasTable {
	var t aliasTable
	if err := yaml.Unmarshal(aliasesYAML, &t); err != nil {
		panic("normalize: bad embedded aliases.yaml: " + err.Error())
	}
	return t
}

package yaml

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const CurrentVersion = "1.0"

type Parser interface {
	Parse(yamlFile []byte) error
	GetConfig() interface{}
}

type ParserYamlV1 struct {
	config FlowDefinition
}

func (p *ParserYamlV1) Parse(yamlFile []byte) error {
	var flow FlowDefinition
	if err := yaml.UnmarshalStrict(yamlFile, &flow); err != nil {
		return err
	}
	p.config = flow
	return nil
}

func (p *ParserYamlV1) GetConfig() interface{} {
	return p.config
}

type Version struct {
	Version string `yaml:"version"`
}

func getYAMLFileVersion(yamlFile []byte) (string, error) {
	var version Version
	err := yaml.Unmarshal(yamlFile, &version)
	if err != nil {
		return "", err
	}
	return version.Version, nil
}

// ParseFlow decodes and validates a flow definition document.
func ParseFlow(yamlFile []byte) (*FlowDefinition, error) {
	version, err := getYAMLFileVersion(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("failed unable to parse YAML file, %w", err)
	}

	switch version {
	case CurrentVersion, "1":
		parser := &ParserYamlV1{}
		if err = parser.Parse(yamlFile); err != nil {
			return nil, fmt.Errorf("failed unable to parse YAML file, %w", err)
		}
		flow := parser.GetConfig().(FlowDefinition)
		if err := flow.checkRequired(); err != nil {
			return nil, fmt.Errorf("invalid flow definition, %w", err)
		}
		return &flow, nil
	default:
		return nil, fmt.Errorf("not support yaml version: %q", version)
	}
}

// HandlerYaml loads the flow definition at yamlFilePath, or the built-in branin flow when
// no path is given.
func HandlerYaml(yamlFilePath string) (*FlowDefinition, error) {
	if yamlFilePath == "" {
		return DefaultFlow()
	}
	yamlFile, err := os.ReadFile(yamlFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed unable to read file, %w", err)
	}
	return ParseFlow(yamlFile)
}

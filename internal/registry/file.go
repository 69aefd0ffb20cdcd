package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type clinicFile struct {
	Doctors  []Doctor  `yaml:"doctors" validate:"dive"`
	Patients []Patient `yaml:"patients" validate:"dive"`
}

// LoadFile reads a clinic registry from a YAML file.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	dir, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dir, nil
}

func Parse(data []byte) (*Directory, error) {
	var f clinicFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal registry yaml: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("registry validation failed: %w", err)
	}

	dir := NewDirectory()
	for _, d := range f.Doctors {
		if err := dir.AddDoctor(d); err != nil {
			return nil, err
		}
	}
	for _, p := range f.Patients {
		if err := dir.AddPatient(p); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

package calendar

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDefinition is the on-disk shape of a business calendar.
type fileDefinition struct {
	Timezone    string   `yaml:"timezone"`
	OpenTime    string   `yaml:"open_time"`
	CloseTime   string   `yaml:"close_time"`
	WorkingDays []string `yaml:"working_days"`
	Holidays    []string `yaml:"holidays"`
}

func ParseYAML(data []byte) (*BusinessCalendar, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, misconfigured("calendar definition is empty")
	}
	var def fileDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("calendar: decode definition: %w", err)
	}
	return New(def.Timezone, def.OpenTime, def.CloseTime, def.WorkingDays, def.Holidays)
}

func LoadFile(path string) (*BusinessCalendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read %s: %w", path, err)
	}
	cal, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("calendar: %s: %w", path, err)
	}
	return cal, nil
}

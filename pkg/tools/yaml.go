package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// UnmarshalFileYaml 空文件不报错，v保持原值
func UnmarshalFileYaml(filename string, v interface{}) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}

	if err = yaml.Unmarshal(content, v); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	return nil
}

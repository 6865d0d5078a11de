package utils

import (
	"os"
	"path/filepath"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"gopkg.in/yaml.v2"
)

type config interface {
	entities.NodeConfig | entities.GatewayConfig
}

func readTextFile(filepathName string) ([]byte, error) {
	fileContent, err := os.ReadFile(filepath.Clean(filepathName))
	return fileContent, err
}

// ConfigurationParser overlays the YAML file on configEntity, so fields the
// file leaves out keep the values they were passed in with.
func ConfigurationParser[T config](filepathName string, configEntity T) (T, error) {
	fileContent, err := readTextFile(filepathName)
	if err != nil {
		return configEntity, err
	}

	err = yaml.Unmarshal(fileContent, &configEntity)
	return configEntity, err
}

// GetValueFromEnvironmentVariable returns the variable or defaultValue when unset.
func GetValueFromEnvironmentVariable(variableName, defaultValue string) string {
	value := os.Getenv(variableName)
	if value != "" {
		return value
	}
	return defaultValue
}

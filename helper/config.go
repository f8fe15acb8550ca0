package helper

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads a .env file from the working directory if one exists and
// decodes the YAML file at path into out. Fields absent from the file keep the
// values out already holds. An empty path only loads the .env file.
func LoadConfig(path string, out interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewError("load .env", err)
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the operator
	if err != nil {
		return NewError("read config file", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return NewError("parse config file", err)
	}
	return nil
}

// EnvString overrides target with the environment variable key if it is set
func EnvString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

// EnvInt overrides target with the integer environment variable key if it is set
func EnvInt(key string, target *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return NewError(fmt.Sprintf("parse %s", key), err)
	}
	*target = parsed
	return nil
}

// EnvFloat overrides target with the float environment variable key if it is set
func EnvFloat(key string, target *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return NewError(fmt.Sprintf("parse %s", key), err)
	}
	*target = parsed
	return nil
}

// EnvBool overrides target with the boolean environment variable key if it is set
func EnvBool(key string, target *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return NewError(fmt.Sprintf("parse %s", key), err)
	}
	*target = parsed
	return nil
}

// EnvDuration overrides target with the duration environment variable key if it is set.
// Values use time.ParseDuration syntax, e.g. "6s" or "5m".
func EnvDuration(key string, target *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return NewError(fmt.Sprintf("parse %s", key), err)
	}
	*target = parsed
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

package configuration

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type localConfiguration struct {
	Version Version         `yaml:"version"`
	Log     *Log            `yaml:"log"`
	Hooks   map[string]Hook `yaml:"hooks,omitempty"`
}

type Hook struct {
	Name string `yaml:"name"`
}

var expectedConfig = localConfiguration{
	Version: "0.1",
	Log: &Log{
		Formatter: "json",
	},
	Hooks: map[string]Hook{
		"default": {Name: "foo"},
	},
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
hooks:
  default:
    name: "bar"`

func newTestParser(config localConfiguration) *Parser {
	return NewParser("zdb", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(config),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func TestParserOverwritesStructFieldFromEnvironment(t *testing.T) {
	config := localConfiguration{}

	require.NoError(t, os.Setenv("ZDB_LOG_FORMATTER", "json"))
	defer os.Unsetenv("ZDB_LOG_FORMATTER")

	p := newTestParser(config)
	require.NoError(t, p.Parse([]byte(testConfig), &config))

	require.Equal(t, "json", config.Log.Formatter)
	require.Equal(t, Version("0.1"), config.Version)
}

func TestParserOverwritesMapEntryFromEnvironment(t *testing.T) {
	config := localConfiguration{}

	require.NoError(t, os.Setenv("ZDB_LOG_FORMATTER", "json"))
	defer os.Unsetenv("ZDB_LOG_FORMATTER")

	require.NoError(t, os.Setenv("ZDB_HOOKS_DEFAULT_NAME", "foo"))
	defer os.Unsetenv("ZDB_HOOKS_DEFAULT_NAME")

	p := newTestParser(config)
	require.NoError(t, p.Parse([]byte(testConfig), &config))

	require.Equal(t, expectedConfig, config)
}

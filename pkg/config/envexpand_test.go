package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_Substitution(t *testing.T) {
	t.Setenv("FORGE_TEST_HOST", "db.example.com")
	t.Setenv("FORGE_TEST_PORT", "5432")

	out := ExpandEnv([]byte("dsn: {{.FORGE_TEST_HOST}}:{{.FORGE_TEST_PORT}}"))
	assert.Equal(t, "dsn: db.example.com:5432", string(out))
}

func TestExpandEnv_MissingVariableExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: {{.FORGE_TEST_DOES_NOT_EXIST}}"))
	assert.Equal(t, "key: ", string(out))
}

func TestExpandEnv_DollarSignsPreserved(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"` + "\npassword: p@ss$word")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnv_MalformedTemplatePassesThrough(t *testing.T) {
	in := []byte("key: {{.unclosed")
	assert.Equal(t, in, ExpandEnv(in))
}

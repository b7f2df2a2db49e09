package character

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
)

const salt = "test-salt"

func TestLoadYAMLWithEncryptedSecret(t *testing.T) {
	enc, err := Encrypt("sk-live", salt)
	require.NoError(t, err)

	doc := `
name: Eliza
bio:
  - A helpful agent.
topics: [go, agents]
plugins: [bootstrap]
templates:
  messageHandler: "custom {{.Text}}"
settings:
  model: large
  secrets:
    NESTED: "` + enc + `"
secrets:
  API_KEY: "` + enc + `"
  PLAIN: plain-value
`
	path := filepath.Join(t.TempDir(), "eliza.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load(path, salt)
	require.NoError(t, err)
	assert.Equal(t, "Eliza", c.Name)
	assert.Equal(t, "sk-live", c.Secrets["API_KEY"])
	assert.Equal(t, "plain-value", c.Secrets["PLAIN"])
	assert.Equal(t, "sk-live", c.Settings["secrets"].(map[string]any)["NESTED"])
	assert.Equal(t, "custom {{.Text}}", Template(c, "messageHandler", "default"))
	assert.Equal(t, "default", Template(c, "missing", "default"))
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Ada","bio":["Mathematician."]}`), 0o600))
	c, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "Ada", c.Name)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{"bio":["nameless"]}`), "json", "")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = Parse([]byte(`{"name":"x","unknown":1}`), "json", "")
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	_, err = Parse([]byte(`name: x`), "toml", "")
	assert.Error(t, err)

	enc, err := Encrypt("v", salt)
	require.NoError(t, err)
	_, err = Parse([]byte(`{"name":"x","secrets":{"K":"`+enc+`"}}`), "json", "wrong-salt")
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestDecryptPassthrough(t *testing.T) {
	v, err := Decrypt("not-encrypted", "")
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted", v)

	_, err = Encrypt("x", "")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	s := Summary(&core.Character{Name: "Eliza", Bio: []string{"Line one."}, Topics: []string{"go"}, Adjectives: []string{"kind"}})
	assert.Equal(t, "# About Eliza\nLine one.\nEliza is interested in go.\nEliza is kind.", s)
	assert.Empty(t, Summary(nil))
}

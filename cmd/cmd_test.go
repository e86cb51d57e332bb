// cmd_test.go - Tests der CLI-Commands ueber in-Prozess Ausfuehrung
package cmd

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/infera/grammar"
)

// execute laesst das CLI mit args laufen und faengt stdout ein
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewCLI()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		return out.String() + errOut.String(), err
	}
	return out.String(), err
}

func TestGrammarCommandSchema(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type":"object","properties":{"name":{"type":"string"}}}`), 0o644))

	out, err := execute(t, "grammar", schema)
	require.NoError(t, err)
	assert.Contains(t, out, "root ::=")

	// Die Ausgabe muss selbst wieder kompilierbar sein
	_, err = grammar.Compile(out, "root")
	assert.NoError(t, err)
}

func TestGrammarCommandTools(t *testing.T) {
	tools := filepath.Join(t.TempDir(), "tools.json")
	spec := `[{"type":"function","function":{"name":"get_weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}]`
	require.NoError(t, os.WriteFile(tools, []byte(spec), 0o644))

	out, err := execute(t, "grammar", "--tools", tools)
	require.NoError(t, err)
	assert.Contains(t, out, "get_weather")

	_, err = grammar.Compile(out, "root")
	assert.NoError(t, err)
}

func TestGrammarCommandStrictRejects(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"oneOf":[{"type":"string"}]}`), 0o644))

	_, err := execute(t, "grammar", "--strict", schema)
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	pngPath := filepath.Join(dir, "bild.dat")
	require.NoError(t, os.WriteFile(pngPath, buf.Bytes(), 0o644))

	junkPath := filepath.Join(dir, "junk.bin")
	require.NoError(t, os.WriteFile(junkPath, []byte("kein medienformat"), 0o644))

	out, err := execute(t, "inspect", pngPath, junkPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "png")
	assert.Contains(t, lines[1], "image")
	assert.Contains(t, lines[2], "unknown")
}

func TestRunCommandDeterministic(t *testing.T) {
	g := filepath.Join(t.TempDir(), "g.gbnf")
	require.NoError(t, os.WriteFile(g, []byte(`root ::= "ok" | "no"`), 0o644))

	out1, err := execute(t, "run", "sag etwas", "--grammar", g, "--num-predict", "10")
	require.NoError(t, err)
	out2, err := execute(t, "run", "sag etwas", "--grammar", g, "--num-predict", "10")
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Contains(t, []string{"ok", "no"}, out1)
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", strings.TrimSpace(out))
}

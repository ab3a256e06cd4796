package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/config"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/sqlrt"
)

const testSchemaDoc = `{
  "schemaVersion": "1.0",
  "types": [
    {
      "name": "User",
      "sqlSource": "v_user",
      "fields": [
        {"name": "id", "type": "ID"},
        {"name": "name", "type": "String", "nullable": true}
      ]
    }
  ],
  "queries": [
    {
      "name": "userById",
      "returnType": "User",
      "nullable": true,
      "sqlSource": "v_user",
      "arguments": [{"name": "id", "type": "ID"}]
    }
  ],
  "mutations": []
}`

const testConfigTOML = `[database]
driver = "sqlite3"
dsn = ":memory:"
`

func writeInputs(t *testing.T, schemaDoc string) (schemaPath, configPath, outPath string) {
	t.Helper()
	dir := t.TempDir()
	schemaPath = filepath.Join(dir, "schema.json")
	configPath = filepath.Join(dir, "config.toml")
	outPath = filepath.Join(dir, "schema.compiled.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(schemaDoc), 0644))
	require.NoError(t, os.WriteFile(configPath, []byte(testConfigTOML), 0644))
	return schemaPath, configPath, outPath
}

func TestCompileWritesArtifact(t *testing.T) {
	schemaPath, configPath, outPath := writeInputs(t, testSchemaDoc)

	code := run([]string{"compile", schemaPath, configPath, "-o", outPath})
	require.Equal(t, 0, code)

	cs, err := compiled.LoadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, "sqlite3", cs.Dialect)
	require.NotNil(t, cs.Operation("userById"))
}

func TestCompileIsDeterministic(t *testing.T) {
	schemaPath, configPath, outPath := writeInputs(t, testSchemaDoc)

	require.Equal(t, 0, run([]string{"compile", schemaPath, configPath, "-o", outPath}))
	first, err := os.ReadFile(outPath)
	require.NoError(t, err)

	require.Equal(t, 0, run([]string{"compile", schemaPath, configPath, "-o", outPath}))
	second, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCompileValidationFailure(t *testing.T) {
	// the query returns a type that is never declared
	doc := `{
  "types": [],
  "queries": [
    {"name": "userById", "returnType": "User", "sqlSource": "v_user"}
  ],
  "mutations": []
}`
	schemaPath, configPath, outPath := writeInputs(t, doc)

	code := run([]string{"compile", schemaPath, configPath, "-o", outPath})
	require.Equal(t, 1, code)
	_, err := os.Stat(outPath)
	require.True(t, os.IsNotExist(err))
}

func TestCompileMalformedDocument(t *testing.T) {
	schemaPath, configPath, outPath := writeInputs(t, `{"queries": "nope"}`)

	code := run([]string{"compile", schemaPath, configPath, "-o", outPath})
	require.Equal(t, 1, code)
}

func TestSDLFromArtifact(t *testing.T) {
	schemaPath, configPath, outPath := writeInputs(t, testSchemaDoc)
	require.Equal(t, 0, run([]string{"compile", schemaPath, configPath, "-o", outPath}))

	sdlPath := filepath.Join(filepath.Dir(outPath), "schema.graphql")
	require.Equal(t, 0, run([]string{"sdl", outPath, "-o", sdlPath}))

	sdl, err := os.ReadFile(sdlPath)
	require.NoError(t, err)
	require.Contains(t, string(sdl), "type User")
	require.Contains(t, string(sdl), "userById(id: ID!): User")
}

func TestServerBundlesSQLiteDriver(t *testing.T) {
	// The binary must be able to open the default dialect on its own; driver
	// registration happens via the blank import in this package.
	require.Contains(t, sql.Drivers(), "sqlite3")

	schemaPath, configPath, outPath := writeInputs(t, testSchemaDoc)
	require.Equal(t, 0, run([]string{"compile", schemaPath, configPath, "-o", outPath}))
	cs, err := compiled.LoadFile(outPath)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	rt, err := sqlrt.Open(&cfg.Database, cs, eventbus.New())
	require.NoError(t, err)
	defer rt.Close()
	require.NoError(t, rt.DB().PingContext(context.Background()))
}

func TestServerMissingArtifact(t *testing.T) {
	dir := t.TempDir()

	code := run([]string{"server", "--schema", filepath.Join(dir, "missing.json")})
	require.Equal(t, 2, code)
}

func TestUnknownCommand(t *testing.T) {
	require.Equal(t, 1, run([]string{"frobnicate"}))
}

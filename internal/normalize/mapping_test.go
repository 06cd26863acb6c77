package normalize

import (
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadMappingOverrides(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "sendgrid.yaml", `
provider: sendgrid
mappings:
  deferred: bounce
`)
	writeMapping(t, dir, "empty.yml", "# nothing here\n")
	writeMapping(t, dir, "README.md", "not a mapping")

	overrides, err := LoadMappingOverrides(dir)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.Equal(t, v1.ProviderSendGrid, overrides[0].Provider)
	require.Equal(t, v1.EventBounce, overrides[0].Mappings["deferred"])
	require.Len(t, overrides[0].Fingerprint, 64)
}

func TestLoadMappingOverrides_MissingDirIsEmpty(t *testing.T) {
	overrides, err := LoadMappingOverrides(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, overrides)

	overrides, err = LoadMappingOverrides("")
	require.NoError(t, err)
	require.Empty(t, overrides)
}

func TestLoadMappingOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown canonical type", content: "provider: ses\nmappings:\n  DeliveryDelay: delayed\n", wantErr: "unknown event type"},
		{name: "missing provider", content: "mappings:\n  x: send\n", wantErr: "provider must not be empty"},
		{name: "bad yaml", content: "provider: [\n", wantErr: "parsing mapping file"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeMapping(t, dir, "m.yaml", tc.content)
			_, err := LoadMappingOverrides(dir)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadMappingOverrides_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.yaml")
	require.NoError(t, os.WriteFile(file, []byte("provider: ses"), 0o644))

	_, err := LoadMappingOverrides(file)
	require.ErrorContains(t, err, "is not a directory")
}

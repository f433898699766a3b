package membership

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{
			name:  "single_column",
			input: "avf-participant-uuid\nu1\nu2\n",
			want:  []string{"u1", "u2"},
		},
		{
			name:  "extra_columns_and_blanks",
			input: "group,avf-participant-uuid\nlg,u1\nlg,\nlg, u3\n",
			want:  []string{"u1", "u3"},
		},
		{
			name:  "byte_order_mark",
			input: "\ufeffavf-participant-uuid\nu1\n",
			want:  []string{"u1"},
		},
		{
			name:    "missing_column",
			input:   "urn\ntel:+1\n",
			wantErr: "no avf-participant-uuid column",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := LoadCSV(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadGroups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("avf-participant-uuid\nu1\n"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("avf-participant-uuid\nu2\nu3\n"), 0600))

	groups, err := LoadGroups(map[string][]string{"listening_group": {a, b}})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"listening_group": {"u1", "u2", "u3"}}, groups)

	_, err = LoadGroups(map[string][]string{"broken": {filepath.Join(dir, "missing.csv")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "membership group broken")
}

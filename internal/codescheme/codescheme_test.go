package codescheme

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScheme = `{
  "SchemeID": "Scheme-s01e01",
  "Name": "s01e01",
  "Version": "0.0.1",
  "Codes": [
    {"CodeID": "code-healthcare", "CodeType": "Normal", "StringValue": "healthcare"},
    {"CodeID": "code-greeting", "CodeType": "Meta", "StringValue": "greeting", "MetaCode": "greeting"},
    {"CodeID": "code-NC", "CodeType": "Control", "StringValue": "NC", "ControlCode": "NC"}
  ]
}`

func TestParse(t *testing.T) {
	t.Parallel()

	scheme, err := Parse([]byte(sampleScheme))
	require.NoError(t, err)
	assert.Equal(t, "Scheme-s01e01", scheme.SchemeID)
	require.Len(t, scheme.Codes, 3)

	code, err := scheme.GetCodeWithCodeID("code-NC")
	require.NoError(t, err)
	assert.Equal(t, CodeTypeControl, code.CodeType)
	assert.Equal(t, "NC", code.StringValue)

	_, err = scheme.GetCodeWithCodeID("code-missing")
	var unknown *UnknownCodeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "code-missing", unknown.CodeID)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "not_json", input: `{`, wantErr: "failed to parse code scheme"},
		{name: "no_scheme_id", input: `{"Codes": []}`, wantErr: "no SchemeID"},
		{
			name:    "duplicate_code",
			input:   `{"SchemeID": "s", "Codes": [{"CodeID": "a", "CodeType": "Normal"}, {"CodeID": "a", "CodeType": "Normal"}]}`,
			wantErr: "duplicate code id a",
		},
		{
			name:    "bad_code_type",
			input:   `{"SchemeID": "s", "Codes": [{"CodeID": "a", "CodeType": "Other"}]}`,
			wantErr: "unknown CodeType",
		},
		{
			name:    "missing_code_id",
			input:   `{"SchemeID": "s", "Codes": [{"CodeType": "Normal"}]}`,
			wantErr: "has no CodeID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s01e01.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleScheme), 0600))

	scheme, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s01e01", scheme.Name)

	_, err = LoadFile(path + ".missing")
	require.Error(t, err)
}

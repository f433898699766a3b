package audience

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagement-analysis/advert-sync/internal/codescheme"
	"github.com/engagement-analysis/advert-sync/internal/config"
	"github.com/engagement-analysis/advert-sync/internal/records"
)

const schemeJSON = `{
  "SchemeID": "Scheme-s01e01",
  "Name": "s01e01",
  "Codes": [
    {"CodeID": "code-healthcare", "CodeType": "Normal", "StringValue": "healthcare"},
    {"CodeID": "code-greeting", "CodeType": "Normal", "StringValue": "greeting"},
    {"CodeID": "code-question", "CodeType": "Meta", "StringValue": "question"},
    {"CodeID": "code-NC", "CodeType": "Control", "StringValue": "NC"},
    {"CodeID": "code-STOP", "CodeType": "Control", "StringValue": "STOP"}
  ]
}`

func testScheme(t *testing.T) *codescheme.CodeScheme {
	t.Helper()
	scheme, err := codescheme.Parse([]byte(schemeJSON))
	require.NoError(t, err)
	return scheme
}

func record(uuid string, withdrawn bool, codeIDs ...string) records.ParticipantRecord {
	rec := records.ParticipantRecord{
		UUID:             uuid,
		ConsentWithdrawn: withdrawn,
		HasConsentKey:    true,
		Labels:           map[string][]records.Label{},
	}
	for _, id := range codeIDs {
		key := records.LabelKey("s01e01")
		rec.Labels[key] = append(rec.Labels[key], records.Label{SchemeID: "Scheme-s01e01", CodeID: id})
	}
	return rec
}

func newTestClassifier(t *testing.T, target string) *Classifier {
	t.Helper()
	c, err := NewClassifier([]Dataset{{
		Name:              "s01e01",
		ResearchQuestion:  true,
		CodingRules:       []CodingRule{{AnalysisDataset: "s01e01", Scheme: testScheme(t)}},
		NonRelevantTarget: target,
	}}, config.DefaultNonRelevantCodes)
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, "s01e01_not_relevant")

	sets, err := c.Classify([]records.ParticipantRecord{
		record("relevant", false, "code-healthcare"),
		record("nc-only", false, "code-NC"),
		record("meta-question", false, "code-question"),
		record("relevant-and-question", false, "code-healthcare", "code-question"),
		record("stop-only", false, "code-STOP"),
		record("no-labels", false),
		record("withdrawn-nc", true, "code-NC"),
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"withdrawn-nc"}, sets[OptOut].Sorted())
	assert.ElementsMatch(t, []string{
		"relevant", "nc-only", "meta-question", "relevant-and-question", "stop-only", "no-labels",
	}, sets[WeeklyAdvert].Sorted())
	assert.Equal(t, []string{"meta-question", "nc-only"}, sets["s01e01_not_relevant"].Sorted())
}

func TestClassifyWithdrawnIsExclusive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		recs []records.ParticipantRecord
	}{
		{
			name: "single withdrawn record",
			recs: []records.ParticipantRecord{record("u1", true, "code-NC")},
		},
		{
			name: "consenting record before a withdrawn one",
			recs: []records.ParticipantRecord{record("u1", false, "code-NC"), record("u1", true)},
		},
		{
			name: "withdrawn record before a consenting one",
			recs: []records.ParticipantRecord{record("u1", true), record("u1", false, "code-NC")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClassifier(t, "nr")
			sets, err := c.Classify(tt.recs)
			require.NoError(t, err)

			assert.True(t, sets[OptOut].Contains("u1"))
			for name, set := range sets {
				if name == OptOut {
					continue
				}
				assert.False(t, set.Contains("u1"), "withdrawn participant found in %s", name)
			}
		})
	}
}

func TestClassifyDeclaresEmptyTargets(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, "nr")
	sets, err := c.Classify(nil)
	require.NoError(t, err)

	require.Contains(t, sets, "nr")
	assert.Equal(t, 0, sets["nr"].Len())
	assert.Equal(t, 0, sets[OptOut].Len())
	assert.Equal(t, 0, sets[WeeklyAdvert].Len())
}

func TestClassifyUnknownCode(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, "nr")
	_, err := c.Classify([]records.ParticipantRecord{record("u1", false, "code-unknown")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code code-unknown not found in scheme Scheme-s01e01")
}

func TestClassifyCustomVocabulary(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier([]Dataset{{
		Name:              "s01e01",
		ResearchQuestion:  true,
		CodingRules:       []CodingRule{{AnalysisDataset: "s01e01", Scheme: testScheme(t)}},
		NonRelevantTarget: "nr",
	}}, []string{"STOP"})
	require.NoError(t, err)

	sets, err := c.Classify([]records.ParticipantRecord{
		record("nc-only", false, "code-NC"),
		record("stop-only", false, "code-STOP"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stop-only"}, sets["nr"].Sorted())
}

func TestNewClassifierRejectsInconsistentDatasets(t *testing.T) {
	t.Parallel()

	scheme := testScheme(t)
	tests := []struct {
		name     string
		datasets []Dataset
		wantErr  string
	}{
		{
			name: "demographic_with_target",
			datasets: []Dataset{{
				Name: "gender", NonRelevantTarget: "nr",
				CodingRules: []CodingRule{{AnalysisDataset: "gender", Scheme: scheme}},
			}},
			wantErr: "demographic",
		},
		{
			name: "missing_scheme",
			datasets: []Dataset{{
				Name: "s01e01", ResearchQuestion: true, NonRelevantTarget: "nr",
				CodingRules: []CodingRule{{AnalysisDataset: "s01e01"}},
			}},
			wantErr: "no code scheme",
		},
		{
			name: "target_clashes_with_builtin",
			datasets: []Dataset{{
				Name: "s01e01", ResearchQuestion: true, NonRelevantTarget: OptOut,
				CodingRules: []CodingRule{{AnalysisDataset: "s01e01", Scheme: scheme}},
			}},
			wantErr: "duplicate audience name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewClassifier(tt.datasets, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDemographicDatasetsNeverContribute(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier([]Dataset{{
		Name:        "age",
		CodingRules: []CodingRule{{AnalysisDataset: "s01e01", Scheme: testScheme(t)}},
	}}, config.DefaultNonRelevantCodes)
	require.NoError(t, err)

	sets, err := c.Classify([]records.ParticipantRecord{record("u1", false, "code-NC")})
	require.NoError(t, err)
	assert.Len(t, sets, 2)
}

func TestDatasetsFromConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scheme.json")
	require.NoError(t, os.WriteFile(path, []byte(schemeJSON), 0600))

	datasets, err := DatasetsFromConfig([]config.DatasetConfig{
		{
			Name: "s01e01",
			Type: config.DatasetTypeResearchQuestion,
			CodingConfigs: []config.CodingConfigConfig{
				{AnalysisDataset: "s01e01", CodeScheme: path},
			},
			NonRelevantTarget: &config.TargetConfig{Name: "s01e01_nr"},
		},
		{
			Name: "age",
			Type: config.DatasetTypeDemographic,
			CodingConfigs: []config.CodingConfigConfig{
				{AnalysisDataset: "age", CodeScheme: path},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, datasets, 2)

	assert.True(t, datasets[0].ResearchQuestion)
	assert.Equal(t, "s01e01_nr", datasets[0].NonRelevantTarget)
	assert.False(t, datasets[1].ResearchQuestion)
	assert.Same(t, datasets[0].CodingRules[0].Scheme, datasets[1].CodingRules[0].Scheme)

	_, err = DatasetsFromConfig([]config.DatasetConfig{{
		Name:          "broken",
		CodingConfigs: []config.CodingConfigConfig{{AnalysisDataset: "x", CodeScheme: path + ".missing"}},
	}})
	require.Error(t, err)
}

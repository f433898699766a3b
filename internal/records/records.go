// Package records loads labeled participant records produced by the analysis export.
//
// Each record is one JSON object. The loader keeps the participant uuid, the
// consent-withdrawn flag and every "<analysis_dataset>_labels" list; all other
// keys are ignored.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/engagement-analysis/advert-sync/internal/logger"
)

const (
	// UUIDKey holds the participant's de-identified uuid
	UUIDKey = "participant_uuid"

	// ConsentWithdrawnKey holds the consent-withdrawn flag
	ConsentWithdrawnKey = "consent_withdrawn"

	labelsSuffix = "_labels"
)

// Label is a single code assigned to a participant's answer
type Label struct {
	SchemeID string `json:"SchemeID"`
	CodeID   string `json:"CodeID"`
}

// ParticipantRecord is one participant's row in the column view of an analysis export
type ParticipantRecord struct {
	UUID             string
	ConsentWithdrawn bool

	// HasConsentKey is false when the record carried no consent flag at all
	HasConsentKey bool

	// Labels maps a label key ("<analysis_dataset>_labels") to its labels
	Labels map[string][]Label
}

// LabelKey returns the record key that holds labels for an analysis dataset
func LabelKey(analysisDataset string) string {
	return analysisDataset + labelsSuffix
}

// LabelsFor returns the labels recorded for an analysis dataset
func (r *ParticipantRecord) LabelsFor(analysisDataset string) []Label {
	return r.Labels[LabelKey(analysisDataset)]
}

// Stats summarizes a load
type Stats struct {
	Records        int
	MissingConsent int
	Withdrawn      int
}

// LoadJSONL decodes a stream of participant records. Records may be separated
// by newlines or any other JSON whitespace.
func LoadJSONL(r io.Reader) ([]ParticipantRecord, Stats, error) {
	var (
		out   []ParticipantRecord
		stats Stats
	)

	dec := json.NewDecoder(r)
	for index := 0; ; index++ {
		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, stats, fmt.Errorf("record %d: failed to decode: %w", index, err)
		}

		rec, err := parseRecord(raw)
		if err != nil {
			return nil, stats, fmt.Errorf("record %d: %w", index, err)
		}

		stats.Records++
		if !rec.HasConsentKey {
			stats.MissingConsent++
		}
		if rec.ConsentWithdrawn {
			stats.Withdrawn++
		}
		out = append(out, rec)
	}

	return out, stats, nil
}

// LoadFiles loads and concatenates the records of every file in order
func LoadFiles(paths ...string) ([]ParticipantRecord, error) {
	var (
		all   []ParticipantRecord
		total Stats
	)
	for _, path := range paths {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to open records file %s: %w", path, err)
		}
		recs, stats, err := LoadJSONL(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, recs...)
		total.Records += stats.Records
		total.MissingConsent += stats.MissingConsent
		total.Withdrawn += stats.Withdrawn
	}

	logger.Infof("Loaded %d participant records (%d consent withdrawn)", total.Records, total.Withdrawn)
	if total.MissingConsent > 0 {
		logger.Warnf("%d participant records have no %s key and are treated as consented",
			total.MissingConsent, ConsentWithdrawnKey)
	}
	return all, nil
}

func parseRecord(raw map[string]json.RawMessage) (ParticipantRecord, error) {
	rec := ParticipantRecord{Labels: make(map[string][]Label)}

	uuidRaw, ok := raw[UUIDKey]
	if !ok {
		return rec, fmt.Errorf("missing %s", UUIDKey)
	}
	if err := json.Unmarshal(uuidRaw, &rec.UUID); err != nil || rec.UUID == "" {
		return rec, fmt.Errorf("%s must be a non-empty string", UUIDKey)
	}

	if consentRaw, ok := raw[ConsentWithdrawnKey]; ok {
		withdrawn, present, err := parseConsent(consentRaw)
		if err != nil {
			return rec, fmt.Errorf("participant %s: %w", rec.UUID, err)
		}
		rec.ConsentWithdrawn = withdrawn
		rec.HasConsentKey = present
	}

	for key, value := range raw {
		if !strings.HasSuffix(key, labelsSuffix) {
			continue
		}
		labels, err := parseLabels(value)
		if err != nil {
			return rec, fmt.Errorf("participant %s: %s: %w", rec.UUID, key, err)
		}
		rec.Labels[key] = labels
	}

	return rec, nil
}

// parseConsent accepts the "true"/"false" string codes or JSON booleans.
// A JSON null counts as an absent key.
func parseConsent(raw json.RawMessage) (withdrawn bool, present bool, err error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false, fmt.Errorf("invalid %s: %w", ConsentWithdrawnKey, err)
	}
	switch val := v.(type) {
	case nil:
		return false, false, nil
	case bool:
		return val, true, nil
	case string:
		switch strings.ToLower(val) {
		case "true":
			return true, true, nil
		case "false":
			return false, true, nil
		}
	}
	return false, false, fmt.Errorf("invalid %s value %s", ConsentWithdrawnKey, string(raw))
}

// parseLabels accepts a list of labels, a single label object or null
func parseLabels(raw json.RawMessage) ([]Label, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var l Label
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, err
		}
		return []Label{l}, nil
	}
	var labels []Label
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

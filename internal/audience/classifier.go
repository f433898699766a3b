// Package audience derives the named participant sets that are synced to the
// contact service.
package audience

import (
	"fmt"

	"github.com/engagement-analysis/advert-sync/internal/codescheme"
	"github.com/engagement-analysis/advert-sync/internal/records"
)

const (
	// OptOut holds participants who withdrew consent
	OptOut = "opt_out"

	// WeeklyAdvert holds every consenting participant
	WeeklyAdvert = "weekly_advert"
)

// CodingRule binds an analysis dataset's labels to the scheme they are decoded with
type CodingRule struct {
	AnalysisDataset string
	Scheme          *codescheme.CodeScheme
}

// Dataset is a validated analysis dataset definition
type Dataset struct {
	Name string

	// ResearchQuestion is false for demographic datasets
	ResearchQuestion bool

	CodingRules []CodingRule

	// NonRelevantTarget names the audience that receives participants who only
	// sent non-relevant answers. Empty when the dataset has none.
	NonRelevantTarget string
}

// Classifier scans participant records into audiences
type Classifier struct {
	datasets    []Dataset
	nonRelevant map[string]struct{}
}

// NewClassifier builds a classifier. Datasets with a non-relevant target must
// be research question datasets, and every coding rule needs a scheme.
func NewClassifier(datasets []Dataset, nonRelevantCodes []string) (*Classifier, error) {
	seen := make(map[string]bool)
	for _, ds := range datasets {
		if ds.NonRelevantTarget == "" {
			continue
		}
		if !ds.ResearchQuestion {
			return nil, fmt.Errorf("dataset %s: non-relevant target %s on a demographic dataset",
				ds.Name, ds.NonRelevantTarget)
		}
		if ds.NonRelevantTarget == OptOut || ds.NonRelevantTarget == WeeklyAdvert || seen[ds.NonRelevantTarget] {
			return nil, fmt.Errorf("dataset %s: duplicate audience name %s", ds.Name, ds.NonRelevantTarget)
		}
		seen[ds.NonRelevantTarget] = true
		for _, rule := range ds.CodingRules {
			if rule.Scheme == nil {
				return nil, fmt.Errorf("dataset %s: coding rule %s has no code scheme", ds.Name, rule.AnalysisDataset)
			}
		}
	}

	vocab := make(map[string]struct{}, len(nonRelevantCodes))
	for _, c := range nonRelevantCodes {
		vocab[c] = struct{}{}
	}

	return &Classifier{datasets: datasets, nonRelevant: vocab}, nil
}

// Classify computes the opt-out, weekly advert and per-dataset non-relevant
// audiences. A participant with any withdrawn record lands in opt_out only,
// even when other records for the same uuid consent.
func (c *Classifier) Classify(recs []records.ParticipantRecord) (Sets, error) {
	sets := Sets{
		OptOut:       Set{},
		WeeklyAdvert: Set{},
	}
	for _, ds := range c.datasets {
		if ds.NonRelevantTarget != "" {
			sets[ds.NonRelevantTarget] = Set{}
		}
	}

	for i := range recs {
		rec := &recs[i]
		if rec.ConsentWithdrawn {
			sets[OptOut].Add(rec.UUID)
			continue
		}
		sets[WeeklyAdvert].Add(rec.UUID)

		for _, ds := range c.datasets {
			if ds.NonRelevantTarget == "" {
				continue
			}
			for _, rule := range ds.CodingRules {
				nonRelevant, err := c.isNonRelevant(rec, rule)
				if err != nil {
					return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
				}
				if nonRelevant {
					sets[ds.NonRelevantTarget].Add(rec.UUID)
				}
			}
		}
	}

	for name, set := range sets {
		if name == OptOut {
			continue
		}
		for uuid := range sets[OptOut] {
			set.Remove(uuid)
		}
	}

	return sets, nil
}

// isNonRelevant reports whether the participant's answers for a coding rule
// carry no Normal code and at least one code from the non-relevant vocabulary.
func (c *Classifier) isNonRelevant(rec *records.ParticipantRecord, rule CodingRule) (bool, error) {
	codes, err := decode(rec, rule)
	if err != nil {
		return false, err
	}
	if Relevant(rec, codes) {
		return false, nil
	}
	for _, code := range codes {
		if _, ok := c.nonRelevant[code.StringValue]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Relevant reports whether a participant gave a relevant answer: consent is
// not withdrawn and at least one decoded code is a Normal code.
func Relevant(rec *records.ParticipantRecord, codes []*codescheme.Code) bool {
	if rec.ConsentWithdrawn {
		return false
	}
	for _, code := range codes {
		if code.CodeType == codescheme.CodeTypeNormal {
			return true
		}
	}
	return false
}

func decode(rec *records.ParticipantRecord, rule CodingRule) ([]*codescheme.Code, error) {
	labels := rec.LabelsFor(rule.AnalysisDataset)
	codes := make([]*codescheme.Code, 0, len(labels))
	for _, label := range labels {
		code, err := rule.Scheme.GetCodeWithCodeID(label.CodeID)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %s: %w", rec.UUID, records.LabelKey(rule.AnalysisDataset), err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

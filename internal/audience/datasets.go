package audience

import (
	"fmt"

	"github.com/engagement-analysis/advert-sync/internal/codescheme"
	"github.com/engagement-analysis/advert-sync/internal/config"
)

// DatasetsFromConfig loads the code schemes of every configured dataset.
// Scheme files shared between datasets are read once.
func DatasetsFromConfig(cfgs []config.DatasetConfig) ([]Dataset, error) {
	schemes := make(map[string]*codescheme.CodeScheme)
	out := make([]Dataset, 0, len(cfgs))

	for _, dc := range cfgs {
		ds := Dataset{
			Name:             dc.Name,
			ResearchQuestion: dc.Type == config.DatasetTypeResearchQuestion,
		}
		if dc.NonRelevantTarget != nil {
			ds.NonRelevantTarget = dc.NonRelevantTarget.Name
		}

		for _, cc := range dc.CodingConfigs {
			scheme, ok := schemes[cc.CodeScheme]
			if !ok {
				var err error
				scheme, err = codescheme.LoadFile(cc.CodeScheme)
				if err != nil {
					return nil, fmt.Errorf("dataset %s: %w", dc.Name, err)
				}
				schemes[cc.CodeScheme] = scheme
			}
			ds.CodingRules = append(ds.CodingRules, CodingRule{AnalysisDataset: cc.AnalysisDataset, Scheme: scheme})
		}
		out = append(out, ds)
	}

	return out, nil
}

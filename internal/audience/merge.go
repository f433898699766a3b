package audience

import (
	"sort"

	"github.com/engagement-analysis/advert-sync/internal/logger"
)

// MergeResult counts what a membership merge did
type MergeResult struct {
	Included int
	Excluded int
}

// MergeMembershipGroups adds every group member to advert unless they opted out.
// Groups are visited in name order.
func MergeMembershipGroups(optOut Set, groups map[string][]string, advert Set) MergeResult {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var res MergeResult
	for _, name := range names {
		var included, excluded int
		for _, uuid := range groups[name] {
			if optOut.Contains(uuid) {
				excluded++
				continue
			}
			advert.Add(uuid)
			included++
		}
		logger.Debugf("Membership group %s: %d included, %d opted out", name, included, excluded)
		res.Included += included
		res.Excluded += excluded
	}

	logger.Infof("Found %d membership group uuids who have opted out", res.Excluded)
	logger.Infof("Added %d membership group uuids to advert uuids", res.Included)
	return res
}

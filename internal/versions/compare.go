package versions

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CheckMinimum fails when current is an older release than minimum.
// An empty minimum always passes. Development builds are not semver and
// always pass; the caller decides whether to warn about them.
func CheckMinimum(current, minimum string) error {
	if minimum == "" {
		return nil
	}

	minVer, err := semver.NewVersion(minimum)
	if err != nil {
		return fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}

	curVer, err := semver.NewVersion(current)
	if err != nil {
		return nil
	}

	if curVer.LessThan(minVer) {
		return fmt.Errorf("advert-sync %s is older than the required minimum %s", curVer, minVer)
	}
	return nil
}

package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the build version, overridden at link time
var Version = "dev"

// CurrentSchemaVersion is the configuration schema version this build
// understands. Configs from a different major version are rejected.
const CurrentSchemaVersion = "1.2.0"

// ValidateSchemaVersion checks that a config schema version is compatible
// with the running build.
func ValidateSchemaVersion(version string) error {
	if version == "" {
		return nil // pre-versioned configs are treated as current
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid config schema version %q: %w", version, err)
	}

	current := semver.MustParse(CurrentSchemaVersion)
	if v.Major() != current.Major() {
		return fmt.Errorf("config schema version %s is incompatible with %s", version, CurrentSchemaVersion)
	}
	if v.GreaterThan(current) {
		return fmt.Errorf("config schema version %s is newer than supported %s", version, CurrentSchemaVersion)
	}

	return nil
}

package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// CheckVersionCompatibility checks if a reader version can load a file
// written for fileVersion. Returns nil if compatible.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
//
// Examples:
//   - Reader 1.2.0, File 1.2.0 -> OK (exact match)
//   - Reader 1.2.1, File 1.2.0 -> OK (patch differs)
//   - Reader 1.3.0, File 1.2.0 -> ERROR (minor differs)
//   - Reader 2.0.0, File 1.2.0 -> ERROR (major differs)
//   - Reader main, File 1.2.0 -> OK (dev build, skip check)
func CheckVersionCompatibility(readerVersion, fileVersion string) error {
	readerVersion = strings.TrimPrefix(readerVersion, "v")
	fileVersion = strings.TrimPrefix(fileVersion, "v")

	if readerVersion == "main" || fileVersion == "main" {
		return nil
	}

	readerSemver, err := semver.NewVersion(readerVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid reader version '%s'", readerVersion)
	}

	fileSemver, err := semver.NewVersion(fileVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid file version '%s'", fileVersion)
	}

	if readerSemver.Major() != fileSemver.Major() {
		return errors.Newf(errors.ErrCodeVersionMismatch, "major version mismatch: reader is %d.x.x but file requires %d.x.x",
			readerSemver.Major(), fileSemver.Major())
	}

	if readerSemver.Minor() != fileSemver.Minor() {
		return errors.Newf(errors.ErrCodeVersionMismatch, "minor version mismatch: reader is %d.%d.x but file requires %d.%d.x",
			readerSemver.Major(), readerSemver.Minor(),
			fileSemver.Major(), fileSemver.Minor())
	}

	return nil
}

package raceaudit

// Version information for the race auditor.
const (
	// Version is the current version of the auditor.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides build information about the auditor.
type Info struct {
	// Version is the auditor version string.
	Version string

	// Languages lists the source languages the static path parses.
	Languages []string
}

// GetInfo returns information about the auditor build.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Languages: []string{"python", "go"},
	}
}

package version

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the current version of the argo-alpaca client.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/argo-alpaca/internal/version.Version=1.2.3"
// The value "main" indicates a development build.
var Version = "v0.3.0"

const product = "argo-alpaca"

// UserAgent returns the User-Agent sent with every REST request. Versions
// that are not valid semver, including "main", are reported as "dev".
func UserAgent() string {
	return product + "/" + normalize(Version)
}

func normalize(v string) string {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return "dev"
	}

	return parsed.String()
}

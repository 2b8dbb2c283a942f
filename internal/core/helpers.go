package core

import (
	"regexp"
	"strings"
)

var prereleasePattern = regexp.MustCompile(`(?i)-|alpha|beta|\brc|preview|canary|nightly|snapshot`)

// IsPrerelease reports whether a version string looks like a pre-release.
// Detection is a substring match, not semver parsing.
func IsPrerelease(version string) bool {
	return prereleasePattern.MatchString(version)
}

var repoURLReplacer = strings.NewReplacer(
	"git@github.com:", "https://github.com/",
	"git://github.com/", "https://github.com/",
	"ssh://git@github.com/", "https://github.com/",
)

// NormalizeRepoURL converts git+, git@, git:// and .git forms to https.
func NormalizeRepoURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	u = strings.TrimPrefix(u, "git+")
	u = repoURLReplacer.Replace(u)
	u = strings.TrimSuffix(u, ".git")
	if strings.HasPrefix(u, "github.com/") {
		u = "https://" + u
	}
	return u
}

// RepoFromHomepage returns homepage when it points at a GitHub or GitLab repository.
func RepoFromHomepage(homepage string) string {
	for _, host := range []string{"https://github.com/", "https://gitlab.com/"} {
		if strings.HasPrefix(homepage, host) && strings.Count(strings.TrimPrefix(homepage, host), "/") >= 1 {
			return NormalizeRepoURL(strings.TrimSuffix(homepage, "/"))
		}
	}
	return ""
}

// Coalesce returns the first non-empty value.
func Coalesce[T ~string](values ...T) T {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NormalizeName returns the stored identity of name on reg. NuGet ids are
// case-insensitive and kept lowercase; other registries are case-sensitive.
func NormalizeName(reg Registry, name string) string {
	if reg == NuGet {
		return strings.ToLower(name)
	}
	return name
}

package core

import (
	"fmt"
	"strings"

	"github.com/git-pkgs/purl"
	packageurl "github.com/package-url/packageurl-go"
)

var purlTypes = map[Registry]string{
	NPM:       "npm",
	JSR:       "jsr",
	NuGet:     "nuget",
	DockerHub: "docker",
	Homebrew:  "brew",
	ArchLinux: "alpm",
}

// PURL returns the package URL for name on reg, e.g. pkg:npm/%40babel/core.
func PURL(reg Registry, name, version string) string {
	typ, ok := purlTypes[reg]
	if !ok {
		typ = "generic"
	}

	namespace := ""
	pkgName := name
	switch reg {
	case NPM, JSR, DockerHub:
		if i := strings.LastIndex(name, "/"); i > 0 {
			namespace, pkgName = name[:i], name[i+1:]
		}
	case ArchLinux:
		namespace = "arch"
	}

	return packageurl.NewPackageURL(typ, namespace, pkgName, version, nil, "").ToString()
}

// ParsePURL maps a package URL onto a registry and the name that registry
// expects. The version, if any, is ignored.
func ParsePURL(s string) (Registry, string, error) {
	p, err := purl.Parse(s)
	if err != nil {
		return "", "", err
	}

	for reg, typ := range purlTypes {
		if typ != p.Type {
			continue
		}
		name := p.Name
		if p.Namespace != "" && reg != ArchLinux {
			name = p.Namespace + "/" + p.Name
		}
		return reg, NormalizeName(reg, name), nil
	}
	return "", "", fmt.Errorf("unsupported purl type: %s", p.Type)
}

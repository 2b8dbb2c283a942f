// Package all imports all supported registry adapters.
//
// Import this package for its side effects to register every registry:
//
//	import (
//		"github.com/git-pkgs/pkgsync"
//		_ "github.com/git-pkgs/pkgsync/all"
//	)
//
//	// Now all registries are available
//	regs := pkgsync.SupportedRegistries()
//	// [archlinux dockerhub homebrew jsr npm nuget]
package all

import (
	_ "github.com/git-pkgs/pkgsync/internal/archlinux"
	_ "github.com/git-pkgs/pkgsync/internal/dockerhub"
	_ "github.com/git-pkgs/pkgsync/internal/homebrew"
	_ "github.com/git-pkgs/pkgsync/internal/jsr"
	_ "github.com/git-pkgs/pkgsync/internal/npm"
	_ "github.com/git-pkgs/pkgsync/internal/nuget"
)

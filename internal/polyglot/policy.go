package polyglot

import (
	"strings"
)

// Policy is the sandbox every session runs under. Sessions always get
// DefaultPolicy; the fields exist so adapters can read what they may expose
type Policy struct {
	// AllowIO exposes the fs host object and, for Lua, the io and os libraries
	AllowIO bool

	// HostTypePrefixes is the allow-list for host type lookups
	HostTypePrefixes []string

	// AllowCreateThread lets guest runtimes spawn their own threads of
	// execution (Lua coroutines)
	AllowCreateThread bool

	// AllowPolyglot lets one session serve scopes for more than one language
	// and exposes the session polyglot scope
	AllowPolyglot bool

	WorkDir    string
	ModulePath string
}

func DefaultPolicy(workDir, modulePath string) Policy {
	return Policy{
		AllowIO:           true,
		HostTypePrefixes:  []string{"std.", "models."},
		AllowCreateThread: true,
		AllowPolyglot:     true,
		WorkDir:           workDir,
		ModulePath:        modulePath,
	}
}

func (p Policy) HostTypeAllowed(name string) bool {
	for _, prefix := range p.HostTypePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

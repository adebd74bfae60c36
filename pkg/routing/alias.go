package routing

import (
	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/logging"
)

// maxAliasDepth bounds alias chain traversal. Config validation (pkg/config)
// already rejects cycles at startup, so this is defense in depth, not the
// cycle check itself — spec 4.G's router only needs to follow chains.
const maxAliasDepth = 3

// ResolveAlias follows the alias chain up to maxAliasDepth hops, logging
// each hop at DEBUG per spec's ambient-logging convention.
func ResolveAlias(aliases map[string]string, model string) string {
	current := model
	for depth := 0; depth < maxAliasDepth; depth++ {
		target, ok := aliases[current]
		if !ok {
			return current
		}
		logging.Debug("alias resolved", zap.String("from", current), zap.String("to", target))
		current = target
	}
	return current
}

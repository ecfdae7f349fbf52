package channels

import (
	"path/filepath"
	"strings"
)

// PathResolver implements autothread.ChannelResolver over a static
// path -> channel-id registry (spec.md §4.I(2)): exact match, then
// longest-prefix match, then a worktree basename `{name}~{suffix}`
// falling back to `{name}`.
type PathResolver struct {
	routes   map[string]string // project path -> channel id
	fallback string
}

// NewPathResolver builds a resolver from a path->channel map (typically
// config.ChannelsConfig.Routes) and an optional fallback channel id.
func NewPathResolver(routes map[string]string, fallback string) *PathResolver {
	return &PathResolver{routes: routes, fallback: fallback}
}

// ResolveParentChannel implements autothread.ChannelResolver.
func (r *PathResolver) ResolveParentChannel(projectPath string) (string, bool) {
	if ch, ok := r.routes[projectPath]; ok {
		return ch, true
	}

	if ch, ok := longestPrefixMatch(r.routes, projectPath); ok {
		return ch, true
	}

	if base := filepath.Base(projectPath); strings.Contains(base, "~") {
		name := base[:strings.LastIndex(base, "~")]
		worktreeFallback := filepath.Join(filepath.Dir(projectPath), name)
		if ch, ok := r.routes[worktreeFallback]; ok {
			return ch, true
		}
		if ch, ok := longestPrefixMatch(r.routes, worktreeFallback); ok {
			return ch, true
		}
	}

	if r.fallback != "" {
		return r.fallback, true
	}
	return "", false
}

func longestPrefixMatch(routes map[string]string, projectPath string) (string, bool) {
	var bestPrefix string
	var bestChannel string
	for prefix, channel := range routes {
		if !strings.HasPrefix(projectPath, prefix) {
			continue
		}
		if len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestChannel = channel
		}
	}
	if bestPrefix == "" {
		return "", false
	}
	return bestChannel, true
}

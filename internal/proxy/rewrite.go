package proxy

import "strings"

// RewriteRule rewrites an inbound path before forwarding, used when a
// gateway route name differs from the backend's internal route name.
// Forwarding is plain prefix substitution:
//
//	TargetPrefix + inboundPath[len(MatchPrefix):]
//
// A MatchPrefix of "/api/macro" with a TargetPrefix of
// "/api/market-data/macro" turns "/api/macro/global" into
// "/api/market-data/macro/global".
type RewriteRule struct {
	MatchPrefix  string
	TargetPrefix string
}

// Apply rewrites path. The match prefix only counts at a segment boundary,
// so "/api/macro" matches "/api/macro" and "/api/macro/global" but not
// "/api/macrotrends". Non-matching paths are returned unchanged.
func (r RewriteRule) Apply(path string) string {
	if r.MatchPrefix == "" {
		return path
	}
	if path == r.MatchPrefix {
		return r.TargetPrefix
	}
	if !strings.HasPrefix(path, r.MatchPrefix+"/") {
		return path
	}
	return r.TargetPrefix + strings.TrimPrefix(path, r.MatchPrefix)
}

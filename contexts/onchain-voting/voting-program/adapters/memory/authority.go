package memory

import (
	"context"
	"strings"
)

// AuthorityAllowList permits the listed authorities to create polls. An empty
// list permits everyone.
type AuthorityAllowList struct {
	allowed map[string]struct{}
}

func NewAuthorityAllowList(authorities []string) AuthorityAllowList {
	allowed := make(map[string]struct{}, len(authorities))
	for _, authority := range authorities {
		authority = strings.TrimSpace(authority)
		if authority != "" {
			allowed[authority] = struct{}{}
		}
	}
	return AuthorityAllowList{allowed: allowed}
}

func (l AuthorityAllowList) CanCreatePolls(_ context.Context, authority string) (bool, error) {
	if len(l.allowed) == 0 {
		return true, nil
	}
	_, ok := l.allowed[strings.TrimSpace(authority)]
	return ok, nil
}

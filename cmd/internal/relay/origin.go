package relay

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// originPolicy mirrors the allowlist into websocket.Accept's OriginPatterns so
// the two layers agree.
type originPolicy struct {
	required bool
	allowed  []string
	patterns []string
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	allowed = lo.Compact(lo.Map(allowed, func(s string, _ int) string { return strings.TrimSpace(s) }))

	hosts := lo.Uniq(lo.Compact(lo.Map(allowed, func(s string, _ int) string { return originHostOnly(s) })))
	hosts = lo.Without(hosts, "*")
	slices.Sort(hosts)

	return originPolicy{required: required, allowed: allowed, patterns: hosts}
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(p.allowed) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range p.allowed {
		switch {
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

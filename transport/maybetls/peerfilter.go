package maybetls

import (
	"fmt"
	"net"

	"github.com/gobwas/glob"
)

// PeerFilter allows connections only from peers whose IP matches any of the glob patterns, e.g. "10.1.*.*"
type PeerFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewPeerFilter compiles the given patterns. Wildcards don't match across '.' and ':'.
func NewPeerFilter(patterns []string) (*PeerFilter, error) {
	filter := &PeerFilter{
		patterns: patterns,
		globs:    make([]glob.Glob, 0, len(patterns)),
	}
	for i, expr := range patterns {
		g, err := glob.Compile(expr, '.', ':')
		if err != nil {
			return nil, fmt.Errorf("[%d] '%s': %w", i, expr, err)
		}
		filter.globs = append(filter.globs, g)
	}
	return filter, nil
}

// Allow checks the IP of given peer address
func (filter *PeerFilter) Allow(addr net.Addr) bool {
	var ip string
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		ip = host
	}
	for _, g := range filter.globs {
		if g.Match(ip) {
			return true
		}
	}
	return false
}

func (filter *PeerFilter) String() string {
	return fmt.Sprint(filter.patterns)
}

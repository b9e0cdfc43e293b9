package reputation

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// ListedScore is the abuse score given to any listed source.
const ListedScore = 100

// List is a static set of known-bad addresses and prefixes.
type List struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// LoadFile reads a list from disk.
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reputation list: %w", err)
	}
	defer f.Close()
	l, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read reputation list %s: %w", path, err)
	}
	return l, nil
}

// Parse reads one address or CIDR per line. Blank lines, '#' comments and
// anything after ';' are ignored, as are entries that do not parse.
func Parse(r io.Reader) (*List, error) {
	l := &List{addrs: make(map[netip.Addr]struct{})}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if strings.Contains(line, "/") {
			p, err := netip.ParsePrefix(line)
			if err != nil {
				continue
			}
			l.prefixes = append(l.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			continue
		}
		l.addrs[addr.Unmap()] = struct{}{}
	}
	return l, scanner.Err()
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.addrs) + len(l.prefixes)
}

// Contains reports whether addr is listed directly or falls in a listed prefix.
func (l *List) Contains(addr string) bool {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	a = a.Unmap()
	if _, ok := l.addrs[a]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// Score returns ListedScore for listed addresses. ok is false for unlisted ones.
func (l *List) Score(addr string) (float64, bool) {
	if l.Contains(addr) {
		return ListedScore, true
	}
	return 0, false
}

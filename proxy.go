package megafon

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
)

// ProxyPool hands out proxies to portal transports. Each subscriber gets
// its own transport, so a pool is shared between batch workers.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []string
	display []string
}

// ParseProxy normalizes a proxy line into an http:// URL and a host:port
// display form without credentials. Accepted lines:
//
//	host:port
//	host:port:username:password
//	http[s]://[username:password@]host:port
func ParseProxy(line string) (proxyURL, display string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	var u *url.URL
	if strings.Contains(line, "://") {
		parsed, err := url.Parse(line)
		if err != nil || parsed.Host == "" {
			return "", "", false
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", "", false
		}
		u = &url.URL{Host: parsed.Host, User: parsed.User}
	} else {
		switch parts := strings.Split(line, ":"); len(parts) {
		case 2:
			u = &url.URL{Host: net.JoinHostPort(parts[0], parts[1])}
		case 4:
			u = &url.URL{
				Host: net.JoinHostPort(parts[0], parts[1]),
				User: url.UserPassword(parts[2], parts[3]),
			}
		default:
			return "", "", false
		}
	}

	// The portal client tunnels through CONNECT, so https proxies are dialed as http.
	u.Scheme = "http"
	return u.String(), u.Host, true
}

// LoadProxyPool reads one proxy per line from filename. Blank lines and
// lines starting with # are skipped, as are lines ParseProxy rejects.
func LoadProxyPool(filename string) (*ProxyPool, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	pool, err := ReadProxyPool(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return pool, nil
}

func ReadProxyPool(r io.Reader) (*ProxyPool, error) {
	pool := &ProxyPool{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		proxyURL, disp, ok := ParseProxy(line)
		if !ok {
			continue
		}
		pool.proxies = append(pool.proxies, proxyURL)
		pool.display = append(pool.display, disp)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxies: %w", err)
	}
	if len(pool.proxies) == 0 {
		return nil, fmt.Errorf("no valid proxies found")
	}
	return pool, nil
}

func (pp *ProxyPool) Count() int {
	return len(pp.proxies)
}

// Random picks a proxy. idx is for DisplayAt.
func (pp *ProxyPool) Random() (proxyURL string, idx int) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	idx = rand.Intn(len(pp.proxies))
	return pp.proxies[idx], idx
}

// DisplayAt returns the display string for the proxy at idx.
func (pp *ProxyPool) DisplayAt(idx int) string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if idx >= 0 && idx < len(pp.display) {
		return pp.display[idx]
	}
	return ""
}

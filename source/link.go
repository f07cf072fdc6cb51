package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var fileIDPath = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)(?:/|$)`)

// ResourceID extracts the shared document id from a link, either from a
// "/file/d/<id>/" path segment or from an "id=" query parameter.
func ResourceID(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRemoteLink, err)
	}
	if m := fileIDPath.FindStringSubmatch(u.Path); len(m) == 2 {
		return m[1], nil
	}
	if id := strings.TrimSpace(u.Query().Get("id")); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no document id in %q", ErrInvalidRemoteLink, link)
}

// RemoteRef is a validated remote link.
type RemoteRef struct {
	Link string
	Host string
	ID   string
}

// ParseRemoteLink validates link against the known sharing hosts and
// extracts its document id. A host matches when it equals one of hosts or
// is a subdomain of it.
func ParseRemoteLink(link string, hosts []string) (RemoteRef, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return RemoteRef{}, fmt.Errorf("%w: %v", ErrInvalidRemoteLink, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return RemoteRef{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRemoteLink, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !knownHost(host, hosts) {
		return RemoteRef{}, fmt.Errorf("%w: host %q is not a document-sharing host", ErrInvalidRemoteLink, host)
	}
	id, err := ResourceID(link)
	if err != nil {
		return RemoteRef{}, err
	}
	return RemoteRef{Link: link, Host: host, ID: id}, nil
}

func knownHost(host string, hosts []string) bool {
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

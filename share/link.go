package share

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jmcleod/inkwell/internal/util"
)

// FormatLink renders a grant as a shareable URL. The key rides in the
// fragment, which user agents strip before sending requests, so the
// server hosting the link path never observes it.
func FormatLink(base *url.URL, grantID string, key []byte) string {
	link := *base
	link.Path = strings.TrimRight(link.Path, "/") + "/share/" + grantID
	link.Fragment = util.Base64URLEncode(key)
	return link.String()
}

// ParseLink extracts the grant ID and key from a share link.
func ParseLink(raw string) (grantID string, key []byte, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if u.Fragment == "" {
		return "", nil, fmt.Errorf("%w: missing key fragment", ErrMalformedLink)
	}
	_, grantID, ok := strings.Cut(u.Path, "/share/")
	if !ok || grantID == "" || strings.Contains(grantID, "/") {
		return "", nil, fmt.Errorf("%w: missing grant id", ErrMalformedLink)
	}
	key, err = util.Base64URLDecode(u.Fragment)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad key fragment", ErrMalformedLink)
	}
	return grantID, key, nil
}

package browser

import (
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/xhspub/internal/models"
)

// toSetCookie builds the CDP command for replaying c as a session cookie.
// Stored expiry is deliberately not forwarded: the portal rejects cookies whose expiry has passed.
func toSetCookie(pageURL string, c *models.Cookie) *network.SetCookieParams {
	params := network.SetCookie(c.Name, c.Value).
		WithURL(pageURL).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)

	if c.Domain != "" {
		params = params.WithDomain(c.Domain)
	}
	if c.Path != "" {
		params = params.WithPath(c.Path)
	}
	if sameSite, ok := sameSiteFromString(c.SameSite); ok {
		params = params.WithSameSite(sameSite)
	}
	return params
}

func sameSiteFromString(value string) (network.CookieSameSite, bool) {
	switch strings.ToLower(value) {
	case "strict":
		return network.CookieSameSiteStrict, true
	case "lax":
		return network.CookieSameSiteLax, true
	case "none":
		return network.CookieSameSiteNone, true
	}
	return "", false
}

// fromNetworkCookies converts captured browser cookies to the on-disk shape.
// Session cookies (expires <= 0) carry no expiry.
func fromNetworkCookies(cookies []*network.Cookie) []*models.Cookie {
	out := make([]*models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		cookie := &models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expiry = int64(c.Expires)
		}
		out = append(out, cookie)
	}
	return out
}

package models

import "time"

// Cookie mirrors a browser cookie as persisted in the session file.
// Field names follow the JSON shape browser drivers emit (httpOnly, sameSite, expiry)
// so cookie files captured by other tooling load unchanged.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"` // Unix seconds, 0 = session cookie
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// Session is the named cookie set owned by the session store for one account identity
type Session struct {
	Account string    `json:"account"`
	Cookies []*Cookie `json:"cookies"`
	SavedAt time.Time `json:"saved_at"`
	Valid   bool      `json:"valid"`
}

// SessionInfo is the read-only summary exposed over the status API
type SessionInfo struct {
	Account     string    `json:"account"`
	Exists      bool      `json:"exists"`
	CookieCount int       `json:"cookie_count"`
	SavedAt     time.Time `json:"saved_at,omitempty"`
}

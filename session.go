package prover

import "time"

// Session is a session token obtained from the server
type Session struct {
	Token      string
	Expiration time.Time
}

// Valid reports whether the session can still be used at now, keeping a
// margin so that a request does not race the expiry.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Add(sessionMargin).Before(s.Expiration)
}

const sessionMargin = 5 * time.Second

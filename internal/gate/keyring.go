package gate

import "crypto/subtle"

// Keyring is the fixed registry of API keys and the principals they map to.
// It is built once at startup and never mutated.
type Keyring struct {
	entries []keyEntry
}

type keyEntry struct {
	token     []byte
	principal string
}

// NewKeyring copies keys (token to principal) into a Keyring. Empty tokens
// are ignored.
func NewKeyring(keys map[string]string) *Keyring {
	k := &Keyring{entries: make([]keyEntry, 0, len(keys))}
	for token, principal := range keys {
		if token == "" || principal == "" {
			continue
		}
		k.entries = append(k.entries, keyEntry{token: []byte(token), principal: principal})
	}
	return k
}

// Lookup returns the principal for token. Every entry is compared in
// constant time so the match position does not leak through timing.
func (k *Keyring) Lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	candidate := []byte(token)
	principal := ""
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(e.token, candidate) == 1 {
			principal = e.principal
		}
	}
	return principal, principal != ""
}

// Len returns the number of registered keys.
func (k *Keyring) Len() int {
	return len(k.entries)
}

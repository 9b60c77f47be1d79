// Package jid turns user supplied addresses into WhatsApp JIDs.
package jid

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrNoUser is returned when an address carries no user part.
var ErrNoUser = errors.New("address has no user part")

// Parse accepts either a full JID ("123@s.whatsapp.net", "123-456@g.us") or
// a phone number in any formatting.
func Parse(addr string) (types.JID, error) {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "@") {
		jid, err := types.ParseJID(addr)
		if err != nil {
			return types.JID{}, err
		}
		if jid.User == "" {
			return types.JID{}, ErrNoUser
		}
		return jid, nil
	}

	jid, ok := FromPhone(addr)
	if !ok {
		return types.JID{}, ErrNoUser
	}
	return jid, nil
}

// FromPhone creates a user JID from the digits of phone.
func FromPhone(phone string) (types.JID, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if cleaned == "" {
		return types.JID{}, false
	}
	return types.NewJID(cleaned, types.DefaultUserServer), true
}

// IsGroup returns true if the JID is a group.
func IsGroup(jid types.JID) bool {
	return jid.Server == types.GroupServer
}

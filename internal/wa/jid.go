package wa

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	// ErrNotPerson is returned for group, broadcast and newsletter chats.
	ErrNotPerson = errors.New("jid is not a person chat")
	// ErrEmptyJID is returned when the jid carries no user part.
	ErrEmptyJID = errors.New("jid has no user part")
)

// ParsePhone strips the server suffix (and any device part) from a remote jid and returns the
// routable phone identifier. Only one-to-one chats are accepted.
func ParsePhone(remoteJID string) (string, error) {
	raw := strings.TrimSpace(remoteJID)
	if raw == "" {
		return "", ErrEmptyJID
	}
	if !strings.Contains(raw, "@") {
		phone := NormalizePhone(raw)
		if phone == "" {
			return "", ErrEmptyJID
		}
		return phone, nil
	}

	jid, err := types.ParseJID(raw)
	if err != nil {
		return "", fmt.Errorf("parse jid %q: %w", raw, err)
	}
	switch jid.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
	default:
		return "", fmt.Errorf("%s: %w", jid.Server, ErrNotPerson)
	}

	user := jid.ToNonAD().User
	if user == "" {
		return "", ErrEmptyJID
	}
	return user, nil
}

// PhoneJID is the inverse of ParsePhone for regular WhatsApp users.
func PhoneJID(phone string) string {
	return types.NewJID(NormalizePhone(phone), types.DefaultUserServer).String()
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

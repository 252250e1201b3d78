package wa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999999999@s.whatsapp.net", "5511999999999"},
		{"5511999999999:12@s.whatsapp.net", "5511999999999"},
		{"123456789@lid", "123456789"},
		{"+55 (11) 99999-9999", "5511999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePhone(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePhoneRejectsNonPersonChats(t *testing.T) {
	for _, jid := range []string{"120363025246125486@g.us", "status@broadcast"} {
		_, err := ParsePhone(jid)
		assert.True(t, errors.Is(err, ErrNotPerson), jid)
	}

	_, err := ParsePhone("   ")
	assert.True(t, errors.Is(err, ErrEmptyJID))
}

func TestPhoneJID(t *testing.T) {
	assert.Equal(t, "5511999999999@s.whatsapp.net", PhoneJID("+55 11 99999-9999"))
}

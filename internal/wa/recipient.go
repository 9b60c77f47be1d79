package wa

import (
	"fmt"

	"go.mau.fi/whatsmeow/types"

	"wa-gateway/internal/transport"
	"wa-gateway/internal/utils/jid"
)

// ParseRecipient resolves the "to" field of a send request.
func ParseRecipient(to string) (types.JID, error) {
	recipient, err := jid.Parse(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: %q: %v", transport.ErrInvalidRecipient, to, err)
	}
	return recipient, nil
}

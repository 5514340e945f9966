package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// parseJID parses a "user@server" chat or user address.
func parseJID(addr string) (types.JID, error) {
	if !strings.Contains(addr, "@") {
		return types.JID{}, fmt.Errorf("invalid address %q: missing server", addr)
	}
	jid, err := types.ParseJID(addr)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return jid, nil
}

func parseJIDs(addrs []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(addrs))
	for _, a := range addrs {
		jid, err := parseJID(a)
		if err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, nil
}

// addr renders a JID without its device part.
func addr(jid types.JID) string {
	return jid.ToNonAD().String()
}

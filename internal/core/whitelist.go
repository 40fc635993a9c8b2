package core

import (
	"slices"
	"strings"
)

// Whitelist restricts which senders may use the bookkeeper.
type Whitelist struct {
	Enabled     bool     `json:"enabled"`
	AdminBypass bool     `json:"admin_bypass"`
	SenderIDs   []string `json:"sender_ids"`
}

// IsAllowed is the permission predicate handed to callers. A disabled
// whitelist allows everyone; an empty sender is never allowed otherwise.
func (w Whitelist) IsAllowed(senderID string, isAdmin bool) bool {
	if !w.Enabled {
		return true
	}
	if w.AdminBypass && isAdmin {
		return true
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return false
	}
	return w.Contains(senderID)
}

func (w Whitelist) Contains(senderID string) bool {
	return slices.Contains(w.SenderIDs, strings.TrimSpace(senderID))
}

// CleanSenderIDs trims, drops empties and removes duplicates keeping order.
func CleanSenderIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package middleware

import "strings"

const maskVisible = 4

// MaskSessionID оставляет от id сессии первые maskVisible символов, остальное звёздочки.
// Пустой id пишется в лог как "-".
func MaskSessionID(id string) string {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "-"
	case len(id) <= maskVisible:
		return strings.Repeat("*", len(id))
	}
	return id[:maskVisible] + strings.Repeat("*", len(id)-maskVisible)
}

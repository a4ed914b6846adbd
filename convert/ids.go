package convert

import "strings"

// Tool use IDs carry a format-specific prefix on each wire. Conversion
// swaps the prefix and leaves the remainder untouched, so converting
// there and back always restores the original ID. IDs with neither
// prefix pass through unchanged in both directions.
const (
	clientToolIDPrefix   = "toolu_"
	providerToolIDPrefix = "call_"
)

// ToolIDToProvider converts a client-side tool use ID to provider form.
func ToolIDToProvider(id string) string {
	if strings.HasPrefix(id, clientToolIDPrefix) {
		return providerToolIDPrefix + strings.TrimPrefix(id, clientToolIDPrefix)
	}
	return id
}

// ToolIDFromProvider converts a provider-side tool call ID to client
// form.
func ToolIDFromProvider(id string) string {
	if strings.HasPrefix(id, providerToolIDPrefix) {
		return clientToolIDPrefix + strings.TrimPrefix(id, providerToolIDPrefix)
	}
	return id
}

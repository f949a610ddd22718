package market

import "strings"

// NormalizeSymbol converts a slash-delimited pair ("SOL/USDT") into the
// exchange's compact wire form ("SOLUSDT"). Already-compact symbols pass
// through unchanged.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// SanitizePathKey replaces "/" with "_" for use as a cloud document store
// path segment, per the cloud-doc storage variant's key convention.
func SanitizePathKey(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

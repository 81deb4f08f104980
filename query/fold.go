package query

import "strings"

// FoldFunc is the name of the SQL function the store registers on every
// connection. It must apply the same transformation as Fold.
const FoldFunc = "fold"

// Fold lower-cases s with full Unicode case mapping. SQLite's built-in LIKE
// and lower() only fold ASCII.
func Fold(s string) string {
	return strings.ToLower(s)
}

// EscapeLike escapes the LIKE wildcards in s so it matches literally with
// ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

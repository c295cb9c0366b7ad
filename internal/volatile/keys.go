package volatile

import "strings"

// Key layout. Every key is namespaced by the owning user so sessions never collide.

func SessionKey(user string) string { return "session:" + user }

func SequenceKey(user, normalized string) string { return "sequence:" + user + ":" + normalized }

func SequencePattern(user string) string { return "sequence:" + user + ":*" }

func EntityKey(user, entity string) string { return "user:" + user + ":entity:" + entity }

func VerbKey(user, verb string) string { return "user:" + user + ":verb:" + verb }

func NormalizedKey(user, normalized string) string { return "user:" + user + ":normalized:" + normalized }

// UserPattern matches every index entry of user.
func UserPattern(user string) string { return "user:" + user + ":*" }

// ValidUser reports whether user can name a namespace. The separator and SCAN
// glob metacharacters are refused so that one user's patterns never match
// another user's keys.
func ValidUser(user string) bool {
	return user != "" && !strings.ContainsAny(user, `:*?[]\`)
}

// Package naming converts between the camelCase keys a claim's
// spec.variables must use and the snake_case keys a module declares its
// variables under (spec §4.4, §9). The conversion preserves null distinct
// from missing, satisfying the round-trip property in §8.
package naming

import (
	"github.com/stoewer/go-strcase"
)

// ToSnake converts a single camelCase identifier to snake_case.
func ToSnake(camel string) string {
	return strcase.SnakeCase(camel)
}

// ToCamel converts a single snake_case identifier to camelCase.
func ToCamel(snake string) string {
	return strcase.LowerCamelCase(snake)
}

// Variables is a claim/module variable map. A nil value for a key means the
// key is present with an explicit null, distinct from the key's absence.
type Variables map[string]any

// SnakeKeys converts every key of a camelCase variable map to snake_case.
// It does not validate that keys were already camelCase; callers that must
// reject snake_case leaking into a claim should check each key with
// IsCamelCase first (§4.4 step 2: "if snake_case leaks into the claim, fail").
func SnakeKeys(v Variables) Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[ToSnake(k)] = val
	}
	return out
}

// CamelKeys converts every key of a snake_case variable map to camelCase.
func CamelKeys(v Variables) Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[ToCamel(k)] = val
	}
	return out
}

// IsCamelCase reports whether a key contains no underscores, i.e. does not
// look like a snake_case identifier. That is the only check: a key such as
// "BucketName" passes even though it does not round-trip through
// snake->camel unchanged.
func IsCamelCase(key string) bool {
	if key == "" {
		return true
	}
	for _, r := range key {
		if r == '_' {
			return false
		}
	}
	return true
}

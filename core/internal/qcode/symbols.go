package qcode

import (
	"strings"
)

// The sentinel vocabulary. These literal strings are part of the public
// contract: they appear in persisted schema JSON (preset instructions,
// trigger effects) and in caller-supplied queries.
const (
	SymbolQuery      = "__RONIN_QUERY"
	SymbolExpression = "__RONIN_EXPRESSION"
	SymbolValue      = "__RONIN_VALUE"

	fieldPrefix          = "__RONIN_FIELD_"
	fieldParentPrefix    = "__RONIN_FIELD_PARENT_"
	fieldParentOldPrefix = "__RONIN_FIELD_PARENT_OLD_"
	fieldParentNewPrefix = "__RONIN_FIELD_PARENT_NEW_"
)

// FieldScope identifies which table a field reference addresses.
type FieldScope int

const (
	ScopeCurrent FieldScope = iota
	ScopeParent
	ScopeOld
	ScopeNew
)

// AsQuery reports whether v is a sub-query sentinel and returns the inner
// query body. Query takes precedence over Expression when classifying; the
// ordering is stable.
func AsQuery(v interface{}) (map[string]interface{}, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	inner, ok := obj[SymbolQuery]
	if !ok {
		return nil, false
	}
	q, ok := inner.(map[string]interface{})
	return q, ok
}

// AsExpression reports whether v is a raw SQL expression sentinel and returns
// the expression string.
func AsExpression(v interface{}) (string, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	inner, ok := obj[SymbolExpression]
	if !ok {
		return "", false
	}
	s, ok := inner.(string)
	return s, ok
}

// AsFieldRef classifies a field-reference string. Field refs are strings only;
// object wrappers never carry them.
func AsFieldRef(v interface{}) (FieldScope, string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, fieldPrefix) {
		return ScopeCurrent, "", false
	}
	switch {
	case strings.HasPrefix(s, fieldParentOldPrefix):
		return ScopeOld, s[len(fieldParentOldPrefix):], true
	case strings.HasPrefix(s, fieldParentNewPrefix):
		return ScopeNew, s[len(fieldParentNewPrefix):], true
	case strings.HasPrefix(s, fieldParentPrefix):
		return ScopeParent, s[len(fieldParentPrefix):], true
	default:
		return ScopeCurrent, s[len(fieldPrefix):], true
	}
}

// IsSymbol reports whether v is any sentinel object (query or expression).
func IsSymbol(v interface{}) bool {
	if _, ok := AsQuery(v); ok {
		return true
	}
	if _, ok := AsExpression(v); ok {
		return true
	}
	return false
}

func isPathByte(b byte) bool {
	return b == '.' || b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// ReplaceFieldRefs substitutes every field marker inside an expression string
// using the supplied resolver, and reports whether any parent-scoped marker
// (parent, old or new) was seen. The flag bubbles up to decide whether the
// outer select must be wrapped in a sub-select.
func ReplaceFieldRefs(expr string, resolve func(FieldScope, string) string) (string, bool) {
	var out strings.Builder
	sawParent := false

	for {
		i := strings.Index(expr, fieldPrefix)
		if i < 0 {
			out.WriteString(expr)
			break
		}
		out.WriteString(expr[:i])
		rest := expr[i:]

		var scope FieldScope
		var skip int
		switch {
		case strings.HasPrefix(rest, fieldParentOldPrefix):
			scope, skip = ScopeOld, len(fieldParentOldPrefix)
		case strings.HasPrefix(rest, fieldParentNewPrefix):
			scope, skip = ScopeNew, len(fieldParentNewPrefix)
		case strings.HasPrefix(rest, fieldParentPrefix):
			scope, skip = ScopeParent, len(fieldParentPrefix)
		default:
			scope, skip = ScopeCurrent, len(fieldPrefix)
		}
		if scope != ScopeCurrent {
			sawParent = true
		}

		j := skip
		for j < len(rest) && isPathByte(rest[j]) {
			j++
		}
		out.WriteString(resolve(scope, rest[skip:j]))
		expr = rest[j:]
	}

	return out.String(), sawParent
}

// Package queryparse extracts structural predicates and facets from a raw
// query string, leaving plain-text terms as the residual query.
package queryparse

import "strings"

// PredicateKind is the closed set of structural relationship assertions a
// query can make.
type PredicateKind string

const (
	PredicateImplements PredicateKind = "implements"
	PredicateExtends    PredicateKind = "extends"
	PredicateUsages     PredicateKind = "usages"
)

// StructuralPredicate asserts a graph relationship against a named target
// entity, e.g. "implements:UserService".
type StructuralPredicate struct {
	Kind       PredicateKind
	TargetName string
}

// Facets are metadata filters ANDed against candidate chunks post-query.
type Facets struct {
	Language   string
	EntityType string
	Repository string
}

// Result is the parsed form of a query: whatever free text remains after
// stripping recognized tokens, the facets those tokens named, and at most
// one structural predicate.
type Result struct {
	ResidualText string
	Facets       Facets
	Predicate    *StructuralPredicate
}

// Parse tokenizes queryText on whitespace, leaving quoted phrases intact,
// and classifies each token as a structural predicate, a facet, or
// residual text. At most one structural predicate is honored: if more
// than one token of that form appears, the first wins and the rest are
// downgraded to residual text.
func Parse(queryText string) Result {
	var residual []string
	var facets Facets
	var predicate *StructuralPredicate

	for _, tok := range tokenize(queryText) {
		kind, target, ok := splitPrefixed(tok)
		if !ok {
			residual = append(residual, tok)
			continue
		}

		switch strings.ToLower(kind) {
		case "implements":
			predicate = assignPredicate(predicate, PredicateImplements, target, &residual, tok)
		case "extends":
			predicate = assignPredicate(predicate, PredicateExtends, target, &residual, tok)
		case "usages":
			predicate = assignPredicate(predicate, PredicateUsages, target, &residual, tok)
		case "language":
			facets.Language = target
		case "entity_type":
			facets.EntityType = target
		case "repository":
			facets.Repository = target
		default:
			residual = append(residual, tok)
		}
	}

	return Result{
		ResidualText: strings.Join(residual, " "),
		Facets:       facets,
		Predicate:    predicate,
	}
}

// String serializes Result back into query text that Parse will classify
// the same way: predicate token, then facet tokens, then residual text.
// Property P9 relies on this round-tripping through Parse.
func (r Result) String() string {
	var parts []string

	if r.Predicate != nil {
		parts = append(parts, string(r.Predicate.Kind)+":"+r.Predicate.TargetName)
	}
	if r.Facets.Language != "" {
		parts = append(parts, "language:"+r.Facets.Language)
	}
	if r.Facets.EntityType != "" {
		parts = append(parts, "entity_type:"+r.Facets.EntityType)
	}
	if r.Facets.Repository != "" {
		parts = append(parts, "repository:"+r.Facets.Repository)
	}
	if r.ResidualText != "" {
		parts = append(parts, r.ResidualText)
	}

	return strings.Join(parts, " ")
}

// assignPredicate installs a structural predicate if none has been seen
// yet; otherwise the token is downgraded to residual text so that only the
// first structural predicate in the query is honored.
func assignPredicate(existing *StructuralPredicate, kind PredicateKind, target string, residual *[]string, original string) *StructuralPredicate {
	if existing != nil {
		*residual = append(*residual, original)
		return existing
	}
	return &StructuralPredicate{Kind: kind, TargetName: target}
}

// splitPrefixed recognizes "<prefix>:<identifier>" tokens. The prefix
// check is case-insensitive; the identifier is returned verbatim.
func splitPrefixed(tok string) (prefix, target string, ok bool) {
	idx := strings.IndexByte(tok, ':')
	if idx <= 0 || idx == len(tok)-1 {
		return "", "", false
	}
	return tok[:idx], tok[idx+1:], true
}

// tokenize splits on whitespace, keeping double-quoted phrases intact as
// a single token (quotes are preserved so the residual text still carries
// them for downstream phrase matching).
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	return tokens
}

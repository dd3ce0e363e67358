package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EntityType is the closed enumeration of structural kinds a Chunk can
// represent. These are the values the entity_type facet filters on.
type EntityType string

const (
	EntityTypeClass     EntityType = "class"
	EntityTypeMethod    EntityType = "method"
	EntityTypeFunction  EntityType = "function"
	EntityTypeInterface EntityType = "interface"
	EntityTypeStruct    EntityType = "struct"
)

var validEntityTypes = map[EntityType]bool{
	EntityTypeClass:     true,
	EntityTypeMethod:    true,
	EntityTypeFunction:  true,
	EntityTypeInterface: true,
	EntityTypeStruct:    true,
}

// Valid reports whether e is drawn from the closed entity-type enumeration.
func (e EntityType) Valid() bool {
	return validEntityTypes[e]
}

// Language is the closed, lowercase enumeration of source languages a
// Chunk can be tagged with.
type Language string

const (
	LanguageGo         Language = "go"
	LanguagePython     Language = "python"
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageRust       Language = "rust"
	LanguageMarkdown   Language = "markdown"
)

var validLanguages = map[Language]bool{
	LanguageGo:         true,
	LanguagePython:     true,
	LanguageTypeScript: true,
	LanguageJavaScript: true,
	LanguageJava:       true,
	LanguageRust:       true,
	LanguageMarkdown:   true,
}

// Valid reports whether l is drawn from the closed language enumeration.
func (l Language) Valid() bool {
	return validLanguages[l]
}

// Chunk is the atomic unit of retrieval: a contiguous span of source text
// carrying structural metadata. Chunks are immutable once indexed; updates
// are expressed as delete-then-insert keyed on ID.
type Chunk struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Language   Language          `json:"language"`
	EntityType EntityType        `json:"entity_type"`
	EntityName string            `json:"entity_name"`
	SourceFile string            `json:"source_file"`
	StartLine  int               `json:"start_line"`
	EndLine    int               `json:"end_line"`
	StartByte  int               `json:"start_byte"`
	EndByte    int               `json:"end_byte"`
	Attributes map[string]string `json:"attributes,omitempty"`
	DocSummary *string           `json:"doc_summary,omitempty"`
}

// DeriveChunkID computes a Chunk's ID as a pure function of its source
// file, byte span, and the commit it was extracted from. Two extractions
// of the same span at the same commit always hash to the same ID, which
// is what lets ingestion express updates as delete-then-insert.
func DeriveChunkID(sourceFile string, startByte, endByte int, commitSHA string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d:%s", sourceFile, startByte, endByte, commitSHA)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Validate checks the invariants a Chunk must satisfy before it can be
// indexed: ordered byte and line spans, and closed-enumeration membership
// for Language and EntityType.
func (c *Chunk) Validate() error {
	if c.StartByte > c.EndByte {
		return fmt.Errorf("chunk %s: start_byte (%d) must be <= end_byte (%d)", c.ID, c.StartByte, c.EndByte)
	}
	if c.StartLine > c.EndLine {
		return fmt.Errorf("chunk %s: start_line (%d) must be <= end_line (%d)", c.ID, c.StartLine, c.EndLine)
	}
	if !c.Language.Valid() {
		return fmt.Errorf("chunk %s: unrecognized language %q", c.ID, c.Language)
	}
	if !c.EntityType.Valid() {
		return fmt.Errorf("chunk %s: unrecognized entity_type %q", c.ID, c.EntityType)
	}
	if c.SourceFile == "" {
		return fmt.Errorf("chunk %s: source_file must not be empty", c.ID)
	}
	return nil
}

package engine

// Index naming convention. Each corpus owns two aliases: the document
// index under the corpus id itself, and the position side index under a
// _terms suffix. Physical index names carry a deploy suffix and are only
// ever reached through these aliases.

// DocumentAlias is the read/write alias of a corpus' document index.
func DocumentAlias(corpusID string) string { return corpusID }

// PositionAlias is the read/write alias of a corpus' position index.
func PositionAlias(corpusID string) string { return corpusID + "_terms" }

package category

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category is a member of the closed spending taxonomy
type Category string

const (
	Food           Category = "Food"
	Transportation Category = "Transportation"
	Utilities      Category = "Utilities"
	Housing        Category = "Housing"
	Entertainment  Category = "Entertainment"
	Health         Category = "Health"
	Shopping       Category = "Shopping"
	Other          Category = "Other"
)

// All returns every canonical category in display order
func All() []Category {
	return []Category{
		Food,
		Transportation,
		Utilities,
		Housing,
		Entertainment,
		Health,
		Shopping,
		Other,
	}
}

// Valid reports whether c is one of the canonical categories
func (c Category) Valid() bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// MatchMode says how a keyword is found inside a label
type MatchMode int

const (
	// Substring matches anywhere, so stems like "grocer" catch "groceries"
	Substring MatchMode = iota
	// WholeWord matches only between non-alphanumeric characters
	WholeWord
)

// Keyword maps a lowercase word or substring onto a category
type Keyword struct {
	Match    string
	Category Category
	Mode     MatchMode
}

func (k Keyword) foundIn(lower string) bool {
	if k.Mode != WholeWord {
		return strings.Contains(lower, k.Match)
	}
	for offset := 0; offset < len(lower); {
		i := strings.Index(lower[offset:], k.Match)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(k.Match)
		if !wordRuneBefore(lower, start) && !wordRuneAfter(lower, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordRuneAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Taxonomy resolves free-text labels onto the canonical categories.
// The same keyword table feeds the heuristic parser's first guess and
// the final normalization, so both always agree.
type Taxonomy struct {
	keywords []Keyword
	aliases  map[string]Category
}

// NewTaxonomy builds a taxonomy from keyword and alias tables. Entries that
// target a non-canonical category are ignored.
func NewTaxonomy(keywords []Keyword, aliases map[string]Category) *Taxonomy {
	t := &Taxonomy{
		aliases: make(map[string]Category, len(aliases)),
	}
	for _, kw := range keywords {
		match := strings.ToLower(strings.TrimSpace(kw.Match))
		if match == "" || !kw.Category.Valid() {
			continue
		}
		t.keywords = append(t.keywords, Keyword{Match: match, Category: kw.Category, Mode: kw.Mode})
	}
	// Longer keywords are more specific ("gas station" before "gas")
	sort.SliceStable(t.keywords, func(i, j int) bool {
		return len(t.keywords[i].Match) > len(t.keywords[j].Match)
	})
	for label, c := range aliases {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" || !c.Valid() {
			continue
		}
		t.aliases[label] = c
	}
	return t
}

// Normalize maps any label onto a canonical category. It never fails:
// exact match first, then keyword, then legacy alias, then Other.
func (t *Taxonomy) Normalize(raw string) Category {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return Other
	}

	for _, c := range All() {
		if label == strings.ToLower(string(c)) {
			return c
		}
	}

	if c, ok := t.matchKeyword(label); ok {
		return c
	}

	if c, ok := t.aliases[label]; ok {
		return c
	}

	return Other
}

// Guess returns the category of the first keyword found in text
func (t *Taxonomy) Guess(text string) (Category, bool) {
	return t.matchKeyword(strings.ToLower(text))
}

func (t *Taxonomy) matchKeyword(lower string) (Category, bool) {
	for _, kw := range t.keywords {
		if kw.foundIn(lower) {
			return kw.Category, true
		}
	}
	return "", false
}

// Keywords returns a copy of the keyword table in match order
func (t *Taxonomy) Keywords() []Keyword {
	out := make([]Keyword, len(t.keywords))
	copy(out, t.keywords)
	return out
}

// merge returns a new taxonomy with extra entries layered over t
func (t *Taxonomy) merge(keywords []Keyword, aliases map[string]Category) *Taxonomy {
	allKeywords := append(t.Keywords(), keywords...)
	allAliases := make(map[string]Category, len(t.aliases)+len(aliases))
	for k, v := range t.aliases {
		allAliases[k] = v
	}
	for k, v := range aliases {
		allAliases[k] = v
	}
	return NewTaxonomy(allKeywords, allAliases)
}

var defaultTaxonomy = NewTaxonomy(defaultKeywords, defaultAliases)

// Default returns the built-in taxonomy
func Default() *Taxonomy {
	return defaultTaxonomy
}

// Normalize maps raw onto a canonical category using the built-in taxonomy
func Normalize(raw string) Category {
	return defaultTaxonomy.Normalize(raw)
}

package category

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile is the on-disk format for extra keywords and aliases:
//
//	keywords:
//	  Food: [bodega, deli]
//	aliases:
//	  snacks: Food
type overlayFile struct {
	Keywords map[string][]string `yaml:"keywords"`
	Aliases  map[string]string   `yaml:"aliases"`
}

// LoadTaxonomy reads a YAML overlay and layers it over the built-in tables
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses a YAML overlay. Every target must be a canonical category.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var overlay overlayFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}

	var keywords []Keyword
	for name, matches := range overlay.Keywords {
		c, err := canonical(name)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			keywords = append(keywords, Keyword{Match: m, Category: c})
		}
	}

	aliases := make(map[string]Category, len(overlay.Aliases))
	for label, name := range overlay.Aliases {
		c, err := canonical(name)
		if err != nil {
			return nil, err
		}
		aliases[label] = c
	}

	return Default().merge(keywords, aliases), nil
}

func canonical(name string) (Category, error) {
	c := Category(name)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", name)
	}
	return c, nil
}

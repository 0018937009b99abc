// Package catalog holds the read-only set of known production units and the
// strategies used to match raw observations against it.
package catalog

import (
	"strings"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// Catalog is an in-memory lookup from a unit identity to a Unit. It is
// immutable once built.
type Catalog struct {
	strategy config.MatchStrategy
	units    []models.Unit
	byCode   map[string]int
	names    []string
}

// New builds a catalog. Units keep their input order, which is the order
// used to break ties in fuzzy matching.
func New(units []models.Unit, strategy config.MatchStrategy) *Catalog {
	c := &Catalog{
		strategy: strategy,
		units:    make([]models.Unit, len(units)),
		byCode:   make(map[string]int, len(units)),
		names:    make([]string, len(units)),
	}
	copy(c.units, units)
	for i, u := range c.units {
		if u.Code != "" {
			if _, dup := c.byCode[u.Code]; !dup {
				c.byCode[u.Code] = i
			}
		}
		c.names[i] = models.NormalizeName(u.Name)
	}
	return c
}

// Len returns the number of units in the catalog.
func (c *Catalog) Len() int {
	return len(c.units)
}

// Strategy returns the matching strategy in use.
func (c *Catalog) Strategy() config.MatchStrategy {
	return c.strategy
}

// Lookup resolves a raw unit identity.
func (c *Catalog) Lookup(raw models.RawUnit) (models.Unit, bool) {
	if c.strategy == config.MatchFuzzyName {
		return c.lookupName(raw.Name)
	}
	return c.lookupCode(raw.EICCode)
}

func (c *Catalog) lookupCode(code string) (models.Unit, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Unit{}, false
	}
	i, ok := c.byCode[code]
	if !ok {
		return models.Unit{}, false
	}
	return c.units[i], true
}

// lookupName matches when the normalized query contains the normalized
// catalog name. Substring containment is ambiguous ("blayais 1" is inside
// "blayais 10"); the first unit in catalog order wins.
func (c *Catalog) lookupName(name string) (models.Unit, bool) {
	query := models.NormalizeName(name)
	if query == "" {
		return models.Unit{}, false
	}
	for i, candidate := range c.names {
		if candidate == "" {
			continue
		}
		if strings.Contains(query, candidate) {
			return c.units[i], true
		}
	}
	return models.Unit{}, false
}

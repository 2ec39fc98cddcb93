package fact

import "fmt"

// Attributes is the configured attribute vocabulary. Exclusivity is a
// property of the configuration, injected at construction time, never
// a hard-coded list.
type Attributes struct {
	exclusive map[string]bool
	declared  map[string]bool

	// allowUndeclared lets facts with attributes outside the declared
	// vocabulary through; they behave as non-exclusive.
	allowUndeclared bool
}

// AttributesConfig declares the vocabulary. Names appearing in both
// lists are treated as exclusive.
type AttributesConfig struct {
	Exclusive       []string `json:"exclusive" yaml:"exclusive"`
	NonExclusive    []string `json:"non_exclusive" yaml:"non_exclusive"`
	AllowUndeclared bool     `json:"allow_undeclared" yaml:"allow_undeclared"`
}

// NewAttributes builds the vocabulary from configuration.
func NewAttributes(cfg AttributesConfig) *Attributes {
	a := &Attributes{
		exclusive:       make(map[string]bool, len(cfg.Exclusive)),
		declared:        make(map[string]bool, len(cfg.Exclusive)+len(cfg.NonExclusive)),
		allowUndeclared: cfg.AllowUndeclared,
	}
	for _, name := range cfg.NonExclusive {
		a.declared[name] = true
	}
	for _, name := range cfg.Exclusive {
		a.declared[name] = true
		a.exclusive[name] = true
	}
	return a
}

// IsExclusive reports whether a subject may hold only one current
// value for the attribute.
func (a *Attributes) IsExclusive(attribute string) bool {
	return a.exclusive[attribute]
}

// Check validates an attribute against the vocabulary.
func (a *Attributes) Check(attribute string) error {
	if a.declared[attribute] || a.allowUndeclared {
		return nil
	}
	return fmt.Errorf("%w: attribute %q not declared", ErrInvalidFact, attribute)
}

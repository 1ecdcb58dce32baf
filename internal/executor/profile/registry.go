package profile

import (
	"sort"

	appErr "codexec/pkg/errors"
)

// Registry resolves language ids to language specs.
type Registry struct {
	languages map[LanguageID]LanguageSpec
}

// NewRegistry builds a registry from the built-in table with overrides applied.
// An override for an unknown id adds a new language.
func NewRegistry(overrides []LanguageSpec) *Registry {
	langMap := make(map[LanguageID]LanguageSpec)
	for _, lang := range DefaultLanguages() {
		langMap[lang.ID] = lang
	}
	for _, o := range overrides {
		id := ParseLanguageID(string(o.ID))
		if id == "" {
			continue
		}
		o.ID = id
		if base, ok := langMap[id]; ok {
			langMap[id] = base.merge(o)
			continue
		}
		langMap[id] = o
	}
	for id, lang := range langMap {
		langMap[id] = lang.withDefaults()
	}
	return &Registry{languages: langMap}
}

// Get returns a language spec or an unsupported language error.
func (r *Registry) Get(id LanguageID) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.UnsupportedLanguage(string(id))
	}
	return lang, nil
}

// IDs lists the registered languages in a stable order.
func (r *Registry) IDs() []LanguageID {
	ids := make([]LanguageID, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

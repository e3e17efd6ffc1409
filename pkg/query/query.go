// Package query turns a category name into a search engine query.
package query

import "strings"

// Placeholder is replaced by the category name
const Placeholder = "{name}"

// DefaultTemplate steers results towards clinical photographs rather than
// diagrams and charts.
const DefaultTemplate = Placeholder + " skin lesion patient photo close up real"

// Builder substitutes names into a template
type Builder struct {
	template string
}

// NewBuilder returns a Builder for template. An empty template, or one without
// the placeholder, selects DefaultTemplate.
func NewBuilder(template string) *Builder {
	if !strings.Contains(template, Placeholder) {
		template = DefaultTemplate
	}
	return &Builder{template: template}
}

// Build returns the query for name
func (b *Builder) Build(name string) string {
	return strings.ReplaceAll(b.template, Placeholder, name)
}

// Template returns the template in use
func (b *Builder) Template() string {
	return b.template
}

// Build returns the query for name using DefaultTemplate
func Build(name string) string {
	return strings.ReplaceAll(DefaultTemplate, Placeholder, name)
}

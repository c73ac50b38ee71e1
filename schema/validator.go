package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// Validator checks documents against one compiled schema.
type Validator struct {
	uri       string
	schema    *gojsonschema.Schema
	rules     []Rule
	evaluator Evaluator
}

// CompileWithRegistry compiles the schema at rootURI. Every registry
// document is preloaded into the schema pool under its logical URI, so
// relative, absolute and fragment $refs resolve without leaving the
// registry. A $ref that points outside the registry fails with ErrNotFound.
func CompileWithRegistry(rootURI string, reg *Registry, evaluator Evaluator) (*Validator, error) {
	root, ok := reg.GetByURI(rootURI)
	if !ok {
		return nil, fmt.Errorf("%w: schema %s", util.ErrNotFound, rootURI)
	}
	if err := checkRefs(reg, stripFragment(rootURI), root, make(map[string]bool)); err != nil {
		return nil, err
	}

	sl := gojsonschema.NewSchemaLoader()
	for _, uri := range reg.ListURIs() {
		doc, _ := reg.GetByURI(uri)
		if err := sl.AddSchema(uri, gojsonschema.NewGoLoader(doc)); err != nil {
			return nil, fmt.Errorf("failed to register schema %s: %w", uri, err)
		}
	}

	compiled, err := sl.Compile(gojsonschema.NewReferenceLoader(rootURI))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", rootURI, err)
	}

	rules, err := collectRules(reg, rootURI, root, make(map[string]bool))
	if err != nil {
		return nil, fmt.Errorf("failed to load rules of %s: %w", rootURI, err)
	}

	return &Validator{
		uri:       rootURI,
		schema:    compiled,
		rules:     rules,
		evaluator: evaluator,
	}, nil
}

// URI returns the root schema URI.
func (v *Validator) URI() string {
	return v.uri
}

// Rules returns the computed-field rules in evaluation order.
func (v *Validator) Rules() []Rule {
	return v.rules
}

// Validate runs structural JSON Schema validation only.
func (v *Validator) Validate(doc map[string]interface{}) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", util.ErrSchemaValidation, v.uri, err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, e.String())
	}
	first := errs[0]
	return &ValidationError{
		SchemaURI:   v.uri,
		Field:       first.Field(),
		Constraint:  first.Type(),
		Description: first.Description(),
		Details:     details,
	}
}

// ComputeThenValidate derives every x_rules field in order, writing the
// results into doc, then validates the enriched document. Computed fields
// therefore satisfy "required" and type constraints of the schema.
func (v *Validator) ComputeThenValidate(doc map[string]interface{}) error {
	if err := applyRules(v.rules, v.evaluator, doc); err != nil {
		return err
	}
	return v.Validate(doc)
}

// checkRefs resolves every $ref reachable from node through the registry.
func checkRefs(reg *Registry, base string, node interface{}, seen map[string]bool) error {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n["$ref"].(string); ok {
			path, frag := splitFragment(ref)
			docURI := base
			if path != "" {
				joined, err := Join(base, path)
				if err != nil {
					return err
				}
				docURI = joined
			}
			key := docURI + "#" + frag
			if !seen[key] {
				seen[key] = true
				target, err := reg.ResolveRef(base, ref)
				if err != nil {
					return err
				}
				if err := checkRefs(reg, docURI, target, seen); err != nil {
					return err
				}
			}
		}
		for k, child := range n {
			if k == "$ref" || k == RulesKey {
				continue
			}
			if err := checkRefs(reg, base, child, seen); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range n {
			if err := checkRefs(reg, base, child, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

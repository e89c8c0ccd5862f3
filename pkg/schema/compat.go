// Package schema resolves how the columns of a source table land in its
// target table and checks that their types are compatible.
//
// Target tables are never created or altered. A mapped column that does not
// exist in the target is fatal for the table; a type mismatch is a warning
// unless strict checking is enabled.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Binding pairs a source column with the target column its values go to.
type Binding struct {
	Source core.Column
	Target core.Column
}

// Compatible reports whether the binding's families are compatible.
func (b Binding) Compatible() bool {
	return Compatible(b.Source.Family, b.Target.Family)
}

// Plan is the resolved column layout of one table mapping.
type Plan struct {
	SourceTable string
	TargetTable string
	Bindings    []Binding

	// SourceKey holds the source primary key columns, TargetKey the target
	// primary key columns receiving a mapped value.
	SourceKey []string
	TargetKey []string

	// IdentityInsert is set when a target identity column receives explicit values
	IdentityInsert bool

	Warnings []string
}

// SourceColumns returns the selected source columns in binding order.
func (p *Plan) SourceColumns() []string {
	out := make([]string, len(p.Bindings))
	for i, b := range p.Bindings {
		out[i] = b.Source.Name
	}
	return out
}

// TargetColumns returns the written target columns in binding order.
func (p *Plan) TargetColumns() []string {
	out := make([]string, len(p.Bindings))
	for i, b := range p.Bindings {
		out[i] = b.Target.Name
	}
	return out
}

// TargetSchema returns the bound target columns in binding order.
func (p *Plan) TargetSchema() []core.Column {
	out := make([]core.Column, len(p.Bindings))
	for i, b := range p.Bindings {
		out[i] = b.Target
	}
	return out
}

// PartitionKey returns the source column used for key-range partitioning:
// override when set, else the single integer primary key. The second value
// is false when the table can only be read with offset windows.
func (p *Plan) PartitionKey(override string) (string, bool) {
	if override != "" {
		for _, b := range p.Bindings {
			if strings.EqualFold(b.Source.Name, override) {
				return b.Source.Name, true
			}
		}
		return override, true
	}
	if len(p.SourceKey) != 1 {
		return "", false
	}
	for _, b := range p.Bindings {
		if strings.EqualFold(b.Source.Name, p.SourceKey[0]) && b.Source.Family == core.FamilyInteger {
			return b.Source.Name, true
		}
	}
	return "", false
}

// TargetKeyFor returns the target column a source column is written to.
func (p *Plan) TargetKeyFor(source string) (string, bool) {
	for _, b := range p.Bindings {
		if strings.EqualFold(b.Source.Name, source) {
			return b.Target.Name, true
		}
	}
	return "", false
}

// Resolve binds every source column to its target column. Columns listed in
// the mapping's fields are renamed; all others keep their name.
func Resolve(mapping config.TableMapping, source, target []core.Column, strict bool) (*Plan, error) {
	if len(source) == 0 {
		return nil, errors.New(errors.ErrorTypeFatal, fmt.Sprintf("source table %s has no columns", mapping.Source))
	}

	renames := make(map[string]string, len(mapping.Fields))
	for _, f := range mapping.Fields {
		renames[strings.ToLower(f.Source)] = f.Target
	}
	for _, f := range mapping.Fields {
		if _, ok := core.Lookup(source, f.Source); !ok {
			return nil, errors.New(errors.ErrorTypeFatal,
				fmt.Sprintf("mapped column %s not found in source table %s", f.Source, mapping.Source))
		}
	}

	plan := &Plan{
		SourceTable: mapping.Source,
		TargetTable: mapping.TargetName(),
		Bindings:    make([]Binding, 0, len(source)),
		SourceKey:   core.PrimaryKey(source),
	}

	bound := make(map[string]bool, len(source))
	for _, sc := range source {
		name := sc.Name
		if r, ok := renames[strings.ToLower(sc.Name)]; ok {
			name = r
		}

		tc, ok := core.Lookup(target, name)
		if !ok {
			return nil, errors.New(errors.ErrorTypeFatal,
				fmt.Sprintf("column %s not found in target table %s", name, plan.TargetTable)).
				WithDetail("table", plan.TargetTable).
				WithDetail("column", name)
		}

		b := Binding{Source: sc, Target: tc}
		if !b.Compatible() {
			msg := fmt.Sprintf("incompatible types: %s.%s %s -> %s.%s %s",
				plan.SourceTable, sc.Name, sc.Type, plan.TargetTable, tc.Name, tc.Type)
			if strict {
				return nil, errors.New(errors.ErrorTypeFatal, msg).InTable(plan.TargetTable)
			}
			plan.Warnings = append(plan.Warnings, msg)
		}
		if sc.Nullable && !tc.Nullable && !tc.Identity {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("nullable column %s.%s is written to NOT NULL column %s.%s", plan.SourceTable, sc.Name, plan.TargetTable, tc.Name))
		}
		if tc.Identity {
			plan.IdentityInsert = true
		}

		bound[strings.ToLower(tc.Name)] = true
		plan.Bindings = append(plan.Bindings, b)
	}

	for _, k := range core.PrimaryKey(target) {
		if !bound[strings.ToLower(k)] {
			// a key the batch does not write cannot identify rows
			plan.TargetKey = nil
			break
		}
		plan.TargetKey = append(plan.TargetKey, k)
	}

	return plan, nil
}

// Compatible reports whether values of family from can be written to a
// column of family to. Numeric families are interchangeable; temporal and
// JSON values can land in string columns.
func Compatible(from, to core.TypeFamily) bool {
	if from == to {
		return true
	}
	if from.Numeric() && to.Numeric() {
		return true
	}

	compatibilityRules := map[core.TypeFamily][]core.TypeFamily{
		core.FamilyInteger:  {core.FamilyBoolean},
		core.FamilyBoolean:  {core.FamilyInteger},
		core.FamilyTemporal: {core.FamilyString},
		core.FamilyJSON:     {core.FamilyString},
		core.FamilyString:   {core.FamilyJSON},
		core.FamilyOther:    {core.FamilyString},
	}
	for _, c := range compatibilityRules[from] {
		if c == to {
			return true
		}
	}
	return false
}

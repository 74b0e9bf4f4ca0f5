// Package obligation loads report template definitions (obligation graph +
// slot catalog) and validates them before the engine will evaluate them.
// Malformed definitions are configuration errors: they fail the load with
// enough detail to locate the bad entry, never get silently worked around.
package obligation

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/veridia-health/psur-cli/internal/model"
)

// Template is one report template definition: the obligations it must
// address per jurisdiction and the slot catalog that structures the report.
type Template struct {
	TemplateID    string                 `yaml:"template_id"`
	Jurisdictions []string               `yaml:"jurisdictions"`
	Obligations   []model.Obligation     `yaml:"obligations"`
	Slots         []model.SlotDefinition `yaml:"slots"`
}

// LoadTemplate reads and validates a template definition file.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "obligation: read template %s", path)
	}
	return ParseTemplate(raw)
}

// ParseTemplate decodes and validates a template definition.
func ParseTemplate(raw []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, eris.Wrap(err, "obligation: decode template")
	}
	if tpl.TemplateID == "" {
		return nil, eris.New("obligation: template_id is required")
	}

	// Slot ordinals default to declaration order; TemplateID is stamped on
	// each slot so downstream code never needs the enclosing file.
	for i := range tpl.Slots {
		tpl.Slots[i].TemplateID = tpl.TemplateID
		if tpl.Slots[i].Ordinal == 0 {
			tpl.Slots[i].Ordinal = i + 1
		}
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Validate checks referential integrity and enum validity of the template,
// then runs cycle detection on both the obligation graph and the slot
// dependency graph.
func (t *Template) Validate() error {
	obligations := make(map[string]bool, len(t.Obligations))
	for _, o := range t.Obligations {
		if o.ID == "" {
			return eris.Errorf("obligation: template %s has an obligation with empty id", t.TemplateID)
		}
		if obligations[o.ID] {
			return eris.Errorf("obligation: duplicate obligation id %s", o.ID)
		}
		obligations[o.ID] = true
		for _, et := range o.RequiredEvidenceTypes {
			if !et.Valid() {
				return eris.Errorf("obligation: %s requires unknown evidence type %q", o.ID, et)
			}
		}
	}
	for _, o := range t.Obligations {
		for _, rel := range o.Relations {
			if !rel.Type.Valid() {
				return eris.Errorf("obligation: %s has unknown relation type %q", o.ID, rel.Type)
			}
			if rel.Strength != "" && !rel.Strength.Valid() {
				return eris.Errorf("obligation: %s relation to %s has unknown strength %q", o.ID, rel.To, rel.Strength)
			}
			if !obligations[rel.To] {
				return eris.Errorf("obligation: %s relates to unknown obligation %s", o.ID, rel.To)
			}
		}
	}

	slots := make(map[string]bool, len(t.Slots))
	for _, s := range t.Slots {
		if s.SlotID == "" {
			return eris.Errorf("obligation: template %s has a slot with empty id", t.TemplateID)
		}
		if slots[s.SlotID] {
			return eris.Errorf("obligation: duplicate slot id %s", s.SlotID)
		}
		slots[s.SlotID] = true
		if !s.Kind.Valid() {
			return eris.Errorf("obligation: slot %s has unknown kind %q", s.SlotID, s.Kind)
		}
		for _, m := range s.Mappings {
			if !obligations[m.ObligationID] {
				return eris.Errorf("obligation: slot %s maps unknown obligation %s", s.SlotID, m.ObligationID)
			}
		}
	}
	for _, s := range t.Slots {
		for _, dep := range append(append([]string{}, s.MustFillBefore...), s.MustHaveEvidenceBefore...) {
			if !slots[dep] {
				return eris.Errorf("obligation: slot %s depends on unknown slot %s", s.SlotID, dep)
			}
		}
	}

	if cycle := t.ObligationCycle(); cycle != nil {
		return eris.Errorf("obligation: obligation graph has a cycle: %v", cycle)
	}
	if cycle := t.SlotCycle(); cycle != nil {
		return eris.Errorf("obligation: slot dependencies have a cycle: %v", cycle)
	}
	return nil
}

// ObligationCycle returns the members of a cycle among order-bearing
// obligation relations (REQUIRES, IMPLIES, SUPERSEDES), or nil.
func (t *Template) ObligationCycle() []string {
	edges := make(map[string][]string)
	nodes := make([]string, 0, len(t.Obligations))
	for _, o := range t.Obligations {
		nodes = append(nodes, o.ID)
		for _, rel := range o.Relations {
			if rel.Type.Ordering() {
				edges[o.ID] = append(edges[o.ID], rel.To)
			}
		}
	}
	return findCycle(nodes, edges)
}

// SlotCycle returns the members of a cycle in the slot dependency graph, or
// nil. Both dependency lists contribute edges.
func (t *Template) SlotCycle() []string {
	edges := make(map[string][]string)
	nodes := make([]string, 0, len(t.Slots))
	for _, s := range t.Slots {
		nodes = append(nodes, s.SlotID)
		for _, dep := range s.MustFillBefore {
			edges[dep] = append(edges[dep], s.SlotID)
		}
		for _, dep := range s.MustHaveEvidenceBefore {
			edges[dep] = append(edges[dep], s.SlotID)
		}
	}
	return findCycle(nodes, edges)
}

// Slot returns the slot definition with the given ID, or nil.
func (t *Template) Slot(slotID string) *model.SlotDefinition {
	for i := range t.Slots {
		if t.Slots[i].SlotID == slotID {
			return &t.Slots[i]
		}
	}
	return nil
}

// ObligationByID returns the obligation with the given ID, or nil.
func (t *Template) ObligationByID(id string) *model.Obligation {
	for i := range t.Obligations {
		if t.Obligations[i].ID == id {
			return &t.Obligations[i]
		}
	}
	return nil
}

// ObligationIDs returns all obligation IDs in declaration order.
func (t *Template) ObligationIDs() []string {
	ids := make([]string, 0, len(t.Obligations))
	for _, o := range t.Obligations {
		ids = append(ids, o.ID)
	}
	return ids
}

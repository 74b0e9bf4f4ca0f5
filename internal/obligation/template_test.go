package obligation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTemplate = `
template_id: psur-eu-mdr
jurisdictions: [EU]
obligations:
  - id: OBL-1
    jurisdiction: EU
    mandatory: true
    required_evidence_types: [complaint_record]
    source_citation: "MDR Art. 86(1)(a)"
  - id: OBL-2
    jurisdiction: EU
    mandatory: true
    required_evidence_types: [sales_volume]
    relations:
      - {to: OBL-1, type: REQUIRES, strength: STRONG}
  - id: OBL-3
    jurisdiction: EU
    mandatory: false
    required_evidence_types: []
slots:
  - id: slot-complaints
    kind: table
    requiredness: required
    mappings:
      - {obligation: OBL-1, level: MUST}
  - id: slot-sales
    kind: table
    requiredness: required
    mappings:
      - {obligation: OBL-2, level: MUST}
  - id: slot-summary
    kind: narrative
    requiredness: required
    must_fill_before: [slot-complaints, slot-sales]
    mappings:
      - {obligation: OBL-1, level: SHOULD}
      - {obligation: OBL-3, level: MUST_IF_APPLICABLE}
    contract:
      must_include: [complaint_totals]
`

func TestParseTemplate_Valid(t *testing.T) {
	tpl, err := ParseTemplate([]byte(validTemplate))
	require.NoError(t, err)

	assert.Equal(t, "psur-eu-mdr", tpl.TemplateID)
	require.Len(t, tpl.Obligations, 3)
	require.Len(t, tpl.Slots, 3)

	// Ordinals default to declaration order, template ID is stamped.
	assert.Equal(t, 1, tpl.Slots[0].Ordinal)
	assert.Equal(t, 3, tpl.Slots[2].Ordinal)
	assert.Equal(t, "psur-eu-mdr", tpl.Slots[1].TemplateID)

	assert.NotNil(t, tpl.Slot("slot-sales"))
	assert.Nil(t, tpl.Slot("slot-nope"))
	assert.Equal(t, []string{"OBL-1", "OBL-2", "OBL-3"}, tpl.ObligationIDs())
}

func TestLoadTemplate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validTemplate), 0o644))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "psur-eu-mdr", tpl.TemplateID)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTemplate_UnknownReferences(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "slot maps unknown obligation",
			yaml: `
template_id: t
obligations:
  - {id: OBL-1, mandatory: true}
slots:
  - id: s1
    kind: narrative
    mappings:
      - {obligation: OBL-404, level: MUST}
`,
			want: "unknown obligation",
		},
		{
			name: "relation to unknown obligation",
			yaml: `
template_id: t
obligations:
  - id: OBL-1
    mandatory: true
    relations:
      - {to: OBL-404, type: REQUIRES}
slots: []
`,
			want: "unknown obligation",
		},
		{
			name: "dependency on unknown slot",
			yaml: `
template_id: t
obligations: []
slots:
  - id: s1
    kind: narrative
    must_fill_before: [s-404]
`,
			want: "unknown slot",
		},
		{
			name: "unknown evidence type",
			yaml: `
template_id: t
obligations:
  - id: OBL-1
    mandatory: true
    required_evidence_types: [vibes]
slots: []
`,
			want: "unknown evidence type",
		},
		{
			name: "unknown relation type",
			yaml: `
template_id: t
obligations:
  - id: OBL-1
    mandatory: true
    relations:
      - {to: OBL-1, type: FROWNS_AT}
slots: []
`,
			want: "unknown relation type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTemplate([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseTemplate_ObligationCycle(t *testing.T) {
	_, err := ParseTemplate([]byte(`
template_id: t
obligations:
  - id: OBL-1
    mandatory: true
    relations:
      - {to: OBL-2, type: REQUIRES}
  - id: OBL-2
    mandatory: true
    relations:
      - {to: OBL-3, type: IMPLIES}
  - id: OBL-3
    mandatory: true
    relations:
      - {to: OBL-1, type: SUPERSEDES}
slots: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Contains(t, err.Error(), "OBL-1")
}

func TestParseTemplate_InformationalRelationsNeverCycle(t *testing.T) {
	// CONFLICTS_WITH / SAME_SECTION / CROSS_REFERENCES are symmetric or
	// informational; mutual references through them are fine.
	_, err := ParseTemplate([]byte(`
template_id: t
obligations:
  - id: OBL-1
    mandatory: true
    relations:
      - {to: OBL-2, type: CONFLICTS_WITH}
      - {to: OBL-2, type: SAME_SECTION}
  - id: OBL-2
    mandatory: true
    relations:
      - {to: OBL-1, type: CROSS_REFERENCES}
      - {to: OBL-1, type: CONFLICTS_WITH}
slots: []
`))
	assert.NoError(t, err)
}

func TestParseTemplate_SlotCycles(t *testing.T) {
	_, err := ParseTemplate([]byte(`
template_id: t
obligations: []
slots:
  - id: s1
    kind: narrative
    must_fill_before: [s2]
  - id: s2
    kind: narrative
    must_have_evidence_before: [s1]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	// Self-loop.
	_, err = ParseTemplate([]byte(`
template_id: t
obligations: []
slots:
  - id: s1
    kind: narrative
    must_fill_before: [s1]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestParseTemplate_Duplicates(t *testing.T) {
	_, err := ParseTemplate([]byte(`
template_id: t
obligations:
  - {id: OBL-1, mandatory: true}
  - {id: OBL-1, mandatory: false}
slots: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate obligation")

	_, err = ParseTemplate([]byte(`
template_id: t
obligations: []
slots:
  - {id: s1, kind: narrative}
  - {id: s1, kind: table}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate slot")
}

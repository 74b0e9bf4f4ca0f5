package adjudicate

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/canonical"
	"github.com/veridia-health/psur-cli/internal/model"
)

// ContentHash computes the hash recorded on acceptance, over the proposal's
// normalized content and evidence set. ID lists are sorted first, so two
// proposals differing only in reference order hash identically. Volatile
// fields (proposal ID, timestamps, status) are excluded: the hash commits
// to what was proposed, not to bookkeeping.
func ContentHash(p model.SlotProposal) (string, error) {
	atomIDs := append([]string{}, p.EvidenceAtomIDs...)
	sort.Strings(atomIDs)
	obligationIDs := append([]string{}, p.ClaimedObligationIDs...)
	sort.Strings(obligationIDs)

	h, err := canonical.HashHex(map[string]any{
		"slot_id":                p.SlotID,
		"evidence_atom_ids":      atomIDs,
		"claimed_obligation_ids": obligationIDs,
		"method_statement":       p.MethodStatement,
		"content":                p.Content,
	})
	if err != nil {
		return "", eris.Wrap(err, "adjudicate: hash proposal content")
	}
	return h, nil
}

package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

// Queries answers structural questions against a built case graph
type Queries struct {
	store storage.Storage
}

// NewQueries creates a query engine backed by the given store
func NewQueries(store storage.Storage) *Queries {
	return &Queries{store: store}
}

// PartyAggregate summarizes one resolved party across the case
type PartyAggregate struct {
	Party          *types.Party `json:"party"`
	AgreementCount int          `json:"agreement_count"`
	DocumentCount  int          `json:"document_count"`
}

// Parties aggregates every resolved party with its agreement and
// document counts, sorted by agreement count descending.
func (q *Queries) Parties(ctx context.Context, caseID string) ([]*PartyAggregate, error) {
	parties, err := q.store.GetParties(ctx, caseID)
	if err != nil {
		return nil, err
	}
	edges, err := q.store.GetEdges(ctx, caseID, types.EdgePartyToAgreement)
	if err != nil {
		return nil, err
	}

	agreementsPerParty := make(map[string]int)
	for _, e := range edges {
		agreementsPerParty[e.SourceID]++
	}

	out := make([]*PartyAggregate, 0, len(parties))
	for _, p := range parties {
		out = append(out, &PartyAggregate{
			Party:          p,
			AgreementCount: agreementsPerParty[p.ID],
			DocumentCount:  len(p.SourceDocs),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AgreementCount > out[j].AgreementCount
	})
	return out, nil
}

// CascadeResult is the outcome of a change-of-control cascade analysis
type CascadeResult struct {
	// Triggers are the change-of-control trigger vertices found.
	Triggers []*types.Trigger `json:"triggers"`
	// Agreements are the agreements those triggers attach to.
	Agreements []*types.Agreement `json:"agreements"`
	// ConsentsRequired counts requires_consent edges on those agreements.
	ConsentsRequired int `json:"consents_required"`
	// ExposureByCurrency sums amount vertices on the affected documents.
	ExposureByCurrency map[string]float64 `json:"exposure_by_currency"`
	// CascadeDepth is the longest reference-edge chain reachable from an
	// affected agreement. Depth 0 means no affected agreement references
	// another document.
	CascadeDepth int `json:"cascade_depth"`
	// RiskLevel derives from depth and consent count.
	RiskLevel types.FindingStatus `json:"risk_level"`
}

// ChangeOfControlCascade traces how a change-of-control event propagates:
// all change_of_control triggers, their agreements, required consents,
// summed exposure on the affected documents, and the depth of
// cross-reference chains leading out of them.
func (q *Queries) ChangeOfControlCascade(ctx context.Context, caseID string) (*CascadeResult, error) {
	triggers, err := q.store.GetTriggersByType(ctx, caseID, "change_of_control")
	if err != nil {
		return nil, err
	}

	result := &CascadeResult{
		Triggers:           triggers,
		ExposureByCurrency: make(map[string]float64),
	}

	affectedAgreements := make(map[string]*types.Agreement)
	for _, tr := range triggers {
		ag, err := q.store.GetAgreementByDocument(ctx, caseID, tr.DocumentID)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		affectedAgreements[ag.ID] = ag
	}
	// Agreements flagged change_of_control without an explicit trigger
	// vertex still join the cascade.
	agreements, err := q.store.GetAgreements(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, ag := range agreements {
		if ag.ChangeOfControl {
			affectedAgreements[ag.ID] = ag
		}
	}
	for _, ag := range affectedAgreements {
		result.Agreements = append(result.Agreements, ag)
	}
	sort.Slice(result.Agreements, func(i, j int) bool {
		return result.Agreements[i].DocumentID < result.Agreements[j].DocumentID
	})

	consentEdges, err := q.store.GetEdges(ctx, caseID, types.EdgeRequiresConsent)
	if err != nil {
		return nil, err
	}
	for _, e := range consentEdges {
		if _, ok := affectedAgreements[e.SourceID]; ok {
			result.ConsentsRequired++
		}
	}

	for _, ag := range result.Agreements {
		amounts, err := q.store.GetAmountsByDocument(ctx, caseID, ag.DocumentID)
		if err != nil {
			return nil, err
		}
		for _, a := range amounts {
			currency := a.Currency
			if currency == "" {
				currency = "UNSPECIFIED"
			}
			result.ExposureByCurrency[currency] += a.Value
		}
	}

	refEdges, err := q.store.GetEdges(ctx, caseID, types.EdgeReferences)
	if err != nil {
		return nil, err
	}
	result.CascadeDepth = maxChainDepth(affectedAgreements, refEdges)

	result.RiskLevel = cascadeRiskLevel(result)
	return result, nil
}

// maxChainDepth walks reference edges forward from the affected
// agreements and returns the longest chain length. Cycles are cut by a
// per-walk visited set.
func maxChainDepth(roots map[string]*types.Agreement, refEdges []*types.Edge) int {
	next := make(map[string][]string)
	for _, e := range refEdges {
		next[e.SourceID] = append(next[e.SourceID], e.TargetID)
	}

	var walk func(id string, visited map[string]bool) int
	walk = func(id string, visited map[string]bool) int {
		visited[id] = true
		depth := 0
		for _, target := range next[id] {
			if visited[target] {
				continue
			}
			if d := 1 + walk(target, visited); d > depth {
				depth = d
			}
		}
		delete(visited, id)
		return depth
	}

	max := 0
	for id := range roots {
		if d := walk(id, make(map[string]bool)); d > max {
			max = d
		}
	}
	return max
}

func cascadeRiskLevel(r *CascadeResult) types.FindingStatus {
	switch {
	case len(r.Agreements) == 0:
		return types.StatusGreen
	case r.ConsentsRequired > 3 || r.CascadeDepth >= 2:
		return types.StatusRed
	case r.ConsentsRequired > 0 || r.CascadeDepth == 1:
		return types.StatusAmber
	default:
		return types.StatusYellow
	}
}

// ConsentRequirement pairs an agreement with the parties whose consent
// it requires
type ConsentRequirement struct {
	Agreement *types.Agreement `json:"agreement"`
	Parties   []*types.Party   `json:"parties,omitempty"`
}

// ConsentRequirements lists every agreement requiring consent, with the
// counterparties linked by requires_consent edges.
func (q *Queries) ConsentRequirements(ctx context.Context, caseID string) ([]*ConsentRequirement, error) {
	agreements, err := q.store.GetAgreements(ctx, caseID)
	if err != nil {
		return nil, err
	}
	edges, err := q.store.GetEdges(ctx, caseID, types.EdgeRequiresConsent)
	if err != nil {
		return nil, err
	}
	parties, err := q.store.GetParties(ctx, caseID)
	if err != nil {
		return nil, err
	}

	partyByID := make(map[string]*types.Party, len(parties))
	for _, p := range parties {
		partyByID[p.ID] = p
	}
	consentParties := make(map[string][]*types.Party)
	for _, e := range edges {
		if p, ok := partyByID[e.TargetID]; ok {
			consentParties[e.SourceID] = append(consentParties[e.SourceID], p)
		}
	}

	var out []*ConsentRequirement
	for _, ag := range agreements {
		if !ag.ConsentRequired {
			continue
		}
		out = append(out, &ConsentRequirement{
			Agreement: ag,
			Parties:   consentParties[ag.ID],
		})
	}
	return out, nil
}

// ExposureGroup is a financial-exposure aggregation bucket
type ExposureGroup struct {
	Key   string  `json:"key"` // document id or currency
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// ExposureBy aggregates amount vertices grouped by "document" or
// "currency", sorted by total descending.
func (q *Queries) ExposureBy(ctx context.Context, caseID, groupBy string) ([]*ExposureGroup, error) {
	amounts, err := q.store.GetAmounts(ctx, caseID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*ExposureGroup)
	for _, a := range amounts {
		var key string
		switch groupBy {
		case "document":
			key = a.DocumentID
		case "currency":
			key = a.Currency
			if key == "" {
				key = "UNSPECIFIED"
			}
		default:
			return nil, fmt.Errorf("invalid exposure grouping: %q", groupBy)
		}
		g, ok := groups[key]
		if !ok {
			g = &ExposureGroup{Key: key}
			groups[key] = g
		}
		g.Total += a.Value
		g.Count++
	}

	out := make([]*ExposureGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Total > out[j].Total
	})
	return out, nil
}

// RelatedDocuments finds documents connected to the given one via shared
// parties or direct/reverse cross-references. The result excludes the
// document itself.
func (q *Queries) RelatedDocuments(ctx context.Context, caseID, documentID string) ([]string, error) {
	related := make(map[string]bool)

	parties, err := q.store.GetParties(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, p := range parties {
		shares := false
		for _, id := range p.SourceDocs {
			if id == documentID {
				shares = true
				break
			}
		}
		if !shares {
			continue
		}
		for _, id := range p.SourceDocs {
			related[id] = true
		}
	}

	agreements, err := q.store.GetAgreements(ctx, caseID)
	if err != nil {
		return nil, err
	}
	docByAgreement := make(map[string]string, len(agreements))
	var thisAgreement string
	for _, ag := range agreements {
		docByAgreement[ag.ID] = ag.DocumentID
		if ag.DocumentID == documentID {
			thisAgreement = ag.ID
		}
	}

	if thisAgreement != "" {
		for _, edgeType := range []types.EdgeType{types.EdgeReferences, types.EdgeSecures, types.EdgeConflictsWith} {
			edges, err := q.store.GetEdges(ctx, caseID, edgeType)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if e.SourceID == thisAgreement {
					related[docByAgreement[e.TargetID]] = true
				}
				if e.TargetID == thisAgreement {
					related[docByAgreement[e.SourceID]] = true
				}
			}
		}
	}

	delete(related, documentID)
	delete(related, "")
	out := make([]string, 0, len(related))
	for id := range related {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

package batching

import (
	"strings"

	"github.com/diligentiq/engine/internal/types"
)

// clusterKeywords maps filename/folder fragments to semantic clusters.
// Governance fragments are checked first per ClusterOrder, so a document
// matching both governance and financial keywords lands in governance.
var clusterKeywords = map[types.SemanticCluster][]string{
	types.ClusterGovernance: {
		"articles", "shareholders", "share purchase", "spa", "board", "minutes",
		"resolution", "incorporation", "charter", "bylaws", "register", "corporate",
	},
	types.ClusterFinancial: {
		"loan", "facility", "financial", "accounts", "audit", "balance",
		"guarantee", "security", "pledge", "mortgage", "invoice", "tax",
	},
	types.ClusterRegulatory: {
		"licence", "license", "permit", "regulatory", "compliance", "gdpr",
		"data protection", "environmental", "litigation", "claim", "settlement",
	},
	types.ClusterCommercial: {
		"supply", "customer", "distribution", "agency", "franchise", "lease",
		"services agreement", "purchase order", "terms and conditions", "nda",
	},
	types.ClusterEmployment: {
		"employment", "employee", "pension", "bonus", "incentive", "union",
		"contractor", "consultancy", "severance", "payroll",
	},
}

// clusterQuestions carries each cluster's fixed cross-document questions
var clusterQuestions = map[types.SemanticCluster][]string{
	types.ClusterGovernance: {
		"Is the corporate structure consistent across the constitutional documents?",
		"Do the share registers match the capitalization described in the purchase agreement?",
		"Are there shareholder consents or pre-emption rights triggered by the transaction?",
	},
	types.ClusterFinancial: {
		"Which financing arrangements contain change-of-control or repayment triggers?",
		"Do guarantees or security interests survive the transaction?",
		"Are the disclosed liabilities consistent with the audited accounts?",
	},
	types.ClusterRegulatory: {
		"Which licences or permits require notification or re-application on ownership change?",
		"Is there pending or threatened litigation affecting the transaction?",
		"Are data-protection obligations consistent across processing agreements?",
	},
	types.ClusterCommercial: {
		"Which material contracts require counterparty consent to assignment?",
		"Are there exclusivity or non-compete terms that conflict between agreements?",
		"Do termination rights cluster around the same counterparties?",
	},
	types.ClusterEmployment: {
		"Do key-employee agreements contain change-of-control or retention terms?",
		"Are pension obligations fully funded and disclosed?",
		"Are contractor arrangements consistent with employment-status rules?",
	},
}

// clusterDeepQuestions are the slower, wider-scope questions appended
// when a run opts in to deep questioning.
var clusterDeepQuestions = map[types.SemanticCluster][]string{
	types.ClusterGovernance: {
		"Trace the full chain of title for the shares being sold, noting any gap in the registers.",
	},
	types.ClusterFinancial: {
		"Reconcile every disclosed debt instrument against the security documents and rank the creditors.",
	},
	types.ClusterRegulatory: {
		"Map each regulated activity to its licence and assess transferability under the applicable regime.",
	},
	types.ClusterCommercial: {
		"Rank the material contracts by revenue dependency and identify single points of counterparty failure.",
	},
	types.ClusterEmployment: {
		"Assess aggregate severance and retention exposure if the leadership team departs post-closing.",
	},
}

// QuestionsFor returns the fixed cross-document questions for a cluster
func QuestionsFor(cluster types.SemanticCluster) []string {
	return clusterQuestions[cluster]
}

// DeepQuestionsFor returns the optional deep questions for a cluster
func DeepQuestionsFor(cluster types.SemanticCluster) []string {
	return clusterDeepQuestions[cluster]
}

// Clusterer maps documents to the five fixed semantic clusters
type Clusterer struct{}

// NewClusterer creates a clusterer
func NewClusterer() *Clusterer {
	return &Clusterer{}
}

// ClusterOf assigns a document to a semantic cluster via filename and
// folder keyword heuristics. Unmatched documents default to commercial,
// the broadest cluster.
func (c *Clusterer) ClusterOf(doc *types.Document) types.SemanticCluster {
	haystack := strings.ToLower(doc.Folder + " " + doc.Filename)
	haystack = strings.ReplaceAll(haystack, "_", " ")
	haystack = strings.ReplaceAll(haystack, "-", " ")

	for _, cluster := range types.ClusterOrder {
		for _, kw := range clusterKeywords[cluster] {
			if strings.Contains(haystack, kw) {
				return cluster
			}
		}
	}
	return types.ClusterCommercial
}

// Cluster groups the documents by semantic cluster. The returned map
// only contains non-empty clusters; iterate with types.ClusterOrder for
// the fixed processing order.
func (c *Clusterer) Cluster(docs []*types.Document) map[types.SemanticCluster][]*types.Document {
	out := make(map[types.SemanticCluster][]*types.Document)
	for _, doc := range docs {
		cluster := c.ClusterOf(doc)
		out[cluster] = append(out[cluster], doc)
	}
	return out
}

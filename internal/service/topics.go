package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/domain"
)

// clusterMergeThreshold is the minimum average pairwise similarity for two
// clusters to merge.
const clusterMergeThreshold = 0.4

var labelStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true,
	"was": true, "are": true, "be": true, "been": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "i": true, "you": true,
	"we": true, "they": true, "he": true, "she": true, "it": true,
	"this": true, "that": true, "these": true, "those": true,
}

// TopicTracker clusters commitments into lexical topics and tracks per-topic
// stance over time. Clusters are rebuilt from scratch each turn; stance
// history is append-only.
type TopicTracker struct {
	instabilityThreshold float64
}

func NewTopicTracker(instabilityThreshold float64) *TopicTracker {
	return &TopicTracker{instabilityThreshold: instabilityThreshold}
}

// Recluster groups all active commitments by agglomerative merging: the
// most similar cluster pair merges until no pair's average pairwise
// similarity clears the threshold.
func (t *TopicTracker) Recluster(g *domain.CommitmentGraph) []domain.TopicCluster {
	active := g.ActiveCommitments()
	if len(active) == 0 {
		return nil
	}

	clusters := make([][]*domain.Commitment, len(active))
	for i, c := range active {
		clusters[i] = []*domain.Commitment{c}
	}

	for {
		bestSim := 0.0
		bestI, bestJ := -1, -1
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				var total float64
				pairs := 0
				for _, c1 := range clusters[i] {
					for _, c2 := range clusters[j] {
						total += analysis.TokenSimilarity(c1.Normalized, c2.Normalized)
						pairs++
					}
				}
				if pairs == 0 {
					continue
				}
				if avg := total / float64(pairs); avg > bestSim {
					bestSim = avg
					bestI, bestJ = i, j
				}
			}
		}
		if bestSim < clusterMergeThreshold || bestI < 0 {
			break
		}
		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	result := make([]domain.TopicCluster, 0, len(clusters))
	for idx, members := range clusters {
		ids := make([]string, len(members))
		centroid := members[0]
		firstSeen, lastUpdated := members[0].TurnID, members[0].TurnID
		for i, c := range members {
			ids[i] = c.ID
			if len(c.Normalized) > len(centroid.Normalized) {
				centroid = c
			}
			if c.TurnID < firstSeen {
				firstSeen = c.TurnID
			}
			if c.TurnID > lastUpdated {
				lastUpdated = c.TurnID
			}
		}
		result = append(result, domain.TopicCluster{
			TopicID:         fmt.Sprintf("topic_%d", idx+1),
			Label:           topicLabel(members),
			CommitmentIDs:   ids,
			CentroidText:    centroid.Normalized,
			FirstSeenTurn:   firstSeen,
			LastUpdatedTurn: lastUpdated,
		})
	}
	return result
}

// StancePoint derives a signed stance from a commitment's polarity scaled
// by its confidence.
func (t *TopicTracker) StancePoint(c *domain.Commitment, topicID string) domain.StancePoint {
	return domain.StancePoint{
		Topic:      topicID,
		Stance:     c.Polarity.StanceValue() * c.Confidence,
		TurnID:     c.TurnID,
		Confidence: c.Confidence,
		Timestamp:  c.Timestamp,
	}
}

// UpdateStanceHistory reclusters the graph and appends one stance point per
// new commitment to its topic's history.
func (t *TopicTracker) UpdateStanceHistory(g *domain.CommitmentGraph, newCommitments []*domain.Commitment) {
	g.TopicClusters = t.Recluster(g)

	topicOf := make(map[string]string)
	for _, cluster := range g.TopicClusters {
		for _, id := range cluster.CommitmentIDs {
			topicOf[id] = cluster.TopicID
		}
	}

	for _, c := range newCommitments {
		topicID, ok := topicOf[c.ID]
		if !ok {
			continue
		}
		g.StanceHistory[topicID] = append(g.StanceHistory[topicID], t.StancePoint(c, topicID))
	}
}

// StanceVariance is the population variance of a topic's stance values.
// Fewer than two points is treated as perfectly stable.
func StanceVariance(history []domain.StancePoint) float64 {
	if len(history) < 2 {
		return 0.0
	}
	var sum float64
	for _, sp := range history {
		sum += sp.Stance
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, sp := range history {
		d := sp.Stance - mean
		variance += d * d
	}
	return variance / float64(len(history))
}

// UnstableTopic pairs a topic with its stance variance.
type UnstableTopic struct {
	TopicID  string  `json:"topic_id"`
	Variance float64 `json:"variance"`
}

// UnstableTopics lists topics whose stance variance exceeds the threshold,
// sorted by topic id for deterministic output.
func (t *TopicTracker) UnstableTopics(g *domain.CommitmentGraph) []UnstableTopic {
	var unstable []UnstableTopic
	for topicID, history := range g.StanceHistory {
		if v := StanceVariance(history); v > t.instabilityThreshold {
			unstable = append(unstable, UnstableTopic{TopicID: topicID, Variance: v})
		}
	}
	sort.Slice(unstable, func(i, j int) bool {
		return unstable[i].TopicID < unstable[j].TopicID
	})
	return unstable
}

// topicLabel joins the three most frequent content tokens across a cluster.
func topicLabel(members []*domain.Commitment) string {
	freq := make(map[string]int)
	for _, c := range members {
		for _, tok := range strings.Fields(strings.ToLower(c.Normalized)) {
			tok = strings.Trim(tok, ".,!?;:'\"()[]{}")
			if len(tok) > 2 && !labelStopWords[tok] {
				freq[tok]++
			}
		}
	}
	if len(freq) == 0 {
		return "unknown_topic"
	}

	tokens := make([]string, 0, len(freq))
	for tok := range freq {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if freq[tokens[i]] != freq[tokens[j]] {
			return freq[tokens[i]] > freq[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return strings.Join(tokens, "_")
}

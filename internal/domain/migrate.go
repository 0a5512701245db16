package domain

// MigrateGraph upgrades a graph loaded from a store to the current schema
// version. It is invoked exactly once on load and is idempotent; runtime
// code never has to check for missing fields.
func MigrateGraph(g *CommitmentGraph) *CommitmentGraph {
	if g == nil {
		return nil
	}
	if g.SchemaVersion >= GraphSchemaVersion {
		return g
	}

	switch g.SchemaVersion {
	case 0:
		// v0 → v1: drift accumulation fields. Counters default to zero
		// values already; only the slices and map need allocating.
		if g.DriftEvents == nil {
			g.DriftEvents = []DriftEvent{}
		}
		if g.StanceHistory == nil {
			g.StanceHistory = make(map[string][]StancePoint)
		}
		fallthrough
	case 1:
		// v1 → v2: explicit verification status on alerts and explicit
		// escalation records replacing metadata-map signaling.
		for _, a := range g.Alerts {
			if a.Verification == "" {
				a.Verification = VerificationUnverified
			}
		}
		if g.Escalations == nil {
			g.Escalations = []EscalationRecord{}
		}
		if g.Overrides == nil {
			g.Overrides = []VerificationOverride{}
		}
	}

	if g.Metadata == nil {
		g.Metadata = make(map[string]any)
	}
	g.SchemaVersion = GraphSchemaVersion
	return g
}

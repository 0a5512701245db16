package oracle

const extractPrompt = `You are a structured reasoning extractor.

Given the following conversational turn, extract explicit claims in JSON format.

For each claim return:
- claim (string): canonical form of the claim
- polarity (positive | negative | neutral)
- confidence (0.0 to 1.0)
- assumptions (list of strings): implicit assumptions

Return ONLY valid JSON:
{
  "claims": [...]
}

Turn:
"""
%s
"""
`

const verifyPrompt = `You are evaluating epistemic consistency.

Given two claims:

Prior:
"%s"

New:
"%s"

Determine:
- Is this a direct contradiction? (true/false)
- Is this a contextual refinement?
- Is this a legitimate update based on new information?

Provide short reasoning.

Return ONLY valid JSON:
{
  "is_contradiction": true/false,
  "type": "direct_contradiction|contextual_refinement|legitimate_update",
  "confidence": 0.0-1.0,
  "explanation": "brief explanation"
}
`

const reconcilePrompt = `Given the earlier claim and later claim, generate a coherent reconciliation that preserves logical continuity if possible.

Earlier claim:
"%s"

Later claim:
"%s"

Context summary:
%s

Generate a reconciliation that:
1. Acknowledges the earlier position
2. Explains what changed or what new information emerged
3. Provides a unified understanding

Return ONLY valid JSON:
{
  "reconciliation": "coherent reconciliation text (2-3 sentences)",
  "confidence": 0.0-1.0
}
`

package services

import (
	"encoding/json"
	"fmt"
)

const scoringSystemPrompt = `You are SeeUs, a relationship compatibility assessment engine.
Be warm, clear, non-judgmental, and never diagnose.
Do not invent facts. If inputs are missing, say so.
Output must be valid JSON only.`

const dimensionRubric = `Score the pair for the given dimension on a 0-10 scale:
- 0-2: severe mismatch or missing/unsafe alignment
- 3-4: significant friction likely; requires major ongoing work
- 5-6: workable with intentional communication/rituals
- 7-8: strong alignment with manageable differences
- 9-10: exceptional alignment / mutual fit

Also return:
- confidence: Low/Medium/High (based on how specific and complete the inputs are)
- rationale: 2-4 sentences, plain language, no therapy-speak
- prompts_next: 1-2 follow-up questions to increase confidence (optional)

Never mention policies or that you are an AI.`

func makeDimensionPrompt(dimension, aText, bText string) string {
	return fmt.Sprintf(`Dimension: %s

Person A inputs:
%s

Person B inputs:
%s

%s

Return JSON with keys:
dimension, score, confidence, rationale, prompts_next`, dimension, aText, bText, dimensionRubric)
}

const deepResearchSystemPrompt = scoringSystemPrompt + `
You produce a 'Relational Dynamics Brief' grounded ONLY in the provided answers and computed scores.
Do NOT diagnose, label attachment styles, or speculate about mental health, trauma, or childhood.
Do NOT claim to have browsed the web.
Use careful language: 'tends to', 'often', 'can', 'may'.
If information is missing, say what is missing and ask targeted follow-ups.
Output must be valid JSON only.`

const deepResearchOutputSpec = `Return JSON with this schema:
{
  "title": "Relational Dynamics Brief",
  "observed_patterns": [ {"headline": str, "evidence": [str], "why_it_matters": str} ],
  "what_tends_to_happen": [ {"headline": str, "mechanism": str, "conditions": str} ],
  "early_wins": [str],
  "likely_failure_modes": [ {"name": str, "how_it_starts": str, "how_it_ends": str, "risk_level": "Low|Medium|High"} ],
  "leverage_points": [ {"action": str, "why": str, "how_to_try": str} ],
  "stay_change_leave_lens": {
     "stay_as_is": str,
     "change_one_thing": str,
     "if_nothing_changes": str
  },
  "follow_up_questions": [str],
  "limits": [str]
}`

func makeDeepResearchPrompt(packet ResearchPacket) (string, error) {
	scoresJSON, err := json.Marshal(packet.DimensionScores)
	if err != nil {
		return "", NewInvalidError("dimension scores not serializable: " + err.Error())
	}
	quotesJSON, err := json.Marshal(packet.KeyQuotes)
	if err != nil {
		return "", NewInvalidError("key quotes not serializable: " + err.Error())
	}
	contradictionsJSON, err := json.Marshal(packet.Contradictions)
	if err != nil {
		return "", NewInvalidError("contradictions not serializable: " + err.Error())
	}
	deltasJSON, err := json.Marshal(packet.Deltas)
	if err != nil {
		return "", NewInvalidError("deltas not serializable: " + err.Error())
	}
	return fmt.Sprintf(`You are given:
- relationship_mode: %s
- dimension_scores: %s
- key_quotes: %s
- contradictions: %s
- deltas_over_time: %s

Task:
Write a deep, non-clinical research-style brief that:
1) Anchors claims in evidence from key_quotes + scores (include short evidence bullets).
2) Separates misalignment from cost (name costs neutrally).
3) Identifies likely failure modes (adult framing, not 'red flags').
4) Provides 2-4 leverage points as experiments/rituals.
5) Ends with a Stay/Change/Leave lens (no telling them what to do).

%s`, packet.Mode, scoresJSON, quotesJSON, contradictionsJSON, deltasJSON, deepResearchOutputSpec), nil
}

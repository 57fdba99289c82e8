package services

// prompts builds the tone-variant map for a question. Variants default to the
// base prompt when a tone-specific wording is not provided.
func prompts(def, gentle, clear, sharp string) map[string]string {
	pick := func(v string) string {
		if v == "" {
			return def
		}
		return v
	}
	return map[string]string{
		ToneDefault: def,
		ToneGentle:  pick(gentle),
		ToneClear:   pick(clear),
		ToneSharp:   pick(sharp),
	}
}

// Reserved question id for Mirror-Moment corrections.
const QuestionMirrorCorrection = "mirror_correction"

// Question ids the Mirror-Moment gate and the detectors read directly.
const (
	QuestionValuesHierarchy  = "values_hierarchy"
	QuestionCostTolerance    = "cost_tolerance"
	QuestionClosenessNumeric = "closeness_numeric"
	QuestionBoundaryLine     = "cost_line_followup"
)

// DefaultQuestions is the canonical built-in bank. Keep ids stable: stored
// answers reference them across sessions.
func DefaultQuestions() []*Question {
	return []*Question{
		// Core (primary)
		{
			ID: QuestionValuesHierarchy, Dimension: "values", Primary: true,
			Branch:  "values_example_followup",
			Signals: []string{"values_priority", "sacrifice_direction"},
			Prompts: prompts(
				"When two values conflict in real life (e.g., freedom vs closeness, ambition vs presence), which one usually wins in your actual decisions?",
				"When two important values bump into each other (like freedom vs closeness), which one tends to win in your real decisions?",
				"When values conflict (freedom vs closeness, ambition vs presence), which one wins in your actual decisions?",
				"When values conflict, which one wins in your behavior—no matter what you say you want?",
			),
		},
		{
			ID: QuestionCostTolerance, Dimension: "cost", Primary: true,
			Branch:  QuestionBoundaryLine,
			Signals: []string{"cost_normalization", "overfunctioning", "self_abandonment_risk"},
			Prompts: prompts(
				"What ongoing discomfort have you historically accepted to stay connected to someone?",
				"What discomfort have you tended to carry in order to stay close to someone?",
				"What discomfort have you historically tolerated to stay connected?",
				"What pain have you accepted to keep a relationship alive?",
			),
		},
		{
			ID: "repair_capacity", Dimension: "conflict", Primary: true,
			Branch:  "repair_risk_followup",
			Signals: []string{"repair_initiation", "repair_risk", "silence_cost"},
			Prompts: prompts(
				"After conflict, who usually moves first to repair—and what happens if they don't?",
				"After conflict, who usually reaches out first to repair—and what happens if they don't?",
				"After conflict, who initiates repair—and what happens if they don't?",
				"After conflict, who does the repair work—and what happens if they stop?",
			),
		},
		{
			ID: "emotional_labor", Dimension: "load", Primary: true,
			Signals: []string{"load_imbalance", "mental_overhead"},
			Prompts: prompts(
				"In relationships, what do you notice yourself tracking or managing that your partner often doesn't?",
				"In relationships, what do you find yourself quietly tracking or managing that your partner may not notice?",
				"What do you track/manage that your partner often doesn't?",
				"What invisible work do you do that your partner benefits from but doesn't carry?",
			),
		},
		{
			ID: QuestionClosenessNumeric, Dimension: "attachment", Primary: true,
			Numeric: true,
			Branch:  "closeness_gap_followup",
			Signals: []string{"closeness_need", "space_need"},
			Prompts: prompts(
				"On a 0–10 scale, how much day-to-day closeness do you want? What does \"too much\" look like in practice?",
				"On a 0–10 scale, how much day-to-day closeness feels good? And what does \"too much\" look like for you?",
				"0–10: desired day-to-day closeness. What does \"too much\" look like?",
				"Give a number (0–10) for closeness you want—then describe what makes it feel suffocating.",
			),
		},
		// The Mirror Moment fires after the fifth primary answer.
		{
			ID: "power_decisions", Dimension: "power", Primary: true,
			Signals: []string{"power_symmetry", "avoidance_masking"},
			Prompts: prompts(
				"When there's a meaningful disagreement, how is the final decision usually made?",
				"When you disagree about something that matters, how do decisions usually get made?",
				"In meaningful disagreements, how is the final decision made?",
				"When you disagree, who actually wins—and how does that happen?",
			),
		},
		{
			ID: "stress_behavior", Dimension: "stress", Primary: true,
			Branch:  "stress_duration_followup",
			Signals: []string{"stress_needs", "stress_withdrawal"},
			Prompts: prompts(
				"Under prolonged stress (money, health, work), what do you tend to need more of—and what do you tend to withdraw from?",
				"Under prolonged stress, what do you need more of—and what do you pull away from?",
				"Under prolonged stress, what do you need more of—and what do you withdraw from?",
				"Under stress, what do you demand more of—and what do you stop doing?",
			),
		},
		{
			ID: "pattern_role", Dimension: "pattern", Primary: true,
			Signals: []string{"pattern_replay", "identity_trap"},
			Prompts: prompts(
				"What familiar role do you notice yourself slipping into across different relationships?",
				"Across relationships, what role do you notice yourself falling into?",
				"What role do you tend to repeat across relationships?",
				"What part do you keep playing—over and over?",
			),
		},
		{
			ID: "future_self", Dimension: "future", Primary: true,
			Signals: []string{"time_cost_awareness", "fantasy_gap"},
			Prompts: prompts(
				"Imagine this relationship exactly as it is today, three years from now. What feels nourishing? What feels heavy?",
				"Imagine this stays exactly the same for three years. What would feel nourishing—and what would feel heavy?",
				"Same as today for 3 years: what's nourishing vs heavy?",
				"Three years of this unchanged: what keeps you—and what breaks you?",
			),
		},
		{
			ID: "agency_choice", Dimension: "agency", Primary: true,
			Branch:  "agency_clarify_followup",
			Signals: []string{"agency_clarity", "ambivalence"},
			Prompts: prompts(
				"If nothing changed, would you still actively choose this relationship?",
				"If nothing changed, would you still choose this relationship?",
				"If nothing changes, do you still choose this?",
				"If nothing changes, are you staying by choice—or by attachment?",
			),
		},

		// Branch (non-primary)
		{
			ID: "values_example_followup", Dimension: "values",
			Signals: []string{"values_in_action"},
			Prompts: prompts("Can you share one recent moment where those values conflicted, and what you actually did?", "", "", ""),
		},
		{
			ID: QuestionBoundaryLine, Dimension: "cost",
			Signals: []string{"boundary_line"},
			Prompts: prompts("Where is your line? What discomfort is no longer acceptable for you?", "", "", ""),
		},
		{
			ID: "repair_risk_followup", Dimension: "conflict",
			Signals: []string{"repair_fear", "vulnerability_cost"},
			Prompts: prompts("What feels risky about being the one who initiates repair?", "", "", ""),
		},
		{
			ID: "closeness_gap_followup", Dimension: "attachment",
			Signals: []string{"calibration_skill"},
			Prompts: prompts("When closeness/space needs differ, what tends to happen between you? How do you negotiate it?", "", "", ""),
		},
		{
			ID: "stress_duration_followup", Dimension: "stress",
			Signals: []string{"stress_loop"},
			Prompts: prompts("What tends to happen between you when stress lasts longer than expected (weeks/months)?", "", "", ""),
		},
		{
			ID: "agency_clarify_followup", Dimension: "agency",
			Signals: []string{"change_conditions"},
			Prompts: prompts("What would need to change for this to feel like a clear yes?", "", "", ""),
		},

		// Meta (system)
		{
			ID: QuestionMirrorCorrection, Dimension: "meta",
			Signals: []string{"calibration_feedback"},
			Prompts: prompts("If I missed it, what should I understand differently? (Optional)", "", "", ""),
		},
	}
}

// DefaultBank builds the built-in bank. It panics on a validation error since
// the canonical catalog is compiled in and covered by tests.
func DefaultBank() *QuestionBank {
	b, err := NewQuestionBank(DefaultQuestions())
	if err != nil {
		panic(err)
	}
	return b
}

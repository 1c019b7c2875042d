// Package beats содержит каталог шаблонов битов и правила продвижения по структуре истории.
package beats

import "story-engine/internal/models"

const (
	FreeTotalWords    = 1500
	PremiumTotalWords = 4500

	DefaultTemplateID = "free_scifi"
)

func beat(n int, name string, words int, description, guidance string) models.BeatSpec {
	return models.BeatSpec{BeatNumber: n, BeatName: name, WordTarget: words, Description: description, Guidance: guidance}
}

// catalog - неизменяемый реестр шаблонов. Наружу отдаются только копии.
var catalog = map[string]models.BeatTemplate{
	"free_scifi": {
		Name: "scifi_short", Genre: "sci-fi", Tier: models.TierFree, TotalWords: FreeTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "opening_hook", 400, "Establish setting and protagonist, introduce intriguing element",
				"Ground reader in sci-fi world. Present protagonist's normal. Hint at mystery/problem."),
			beat(2, "discovery", 450, "Protagonist discovers or encounters the core mystery/problem",
				"Raise stakes. Show protagonist's reaction. Complicate the situation."),
			beat(3, "crisis", 400, "Problem intensifies, protagonist must make a choice",
				"Peak tension. Protagonist faces decision or realization."),
			beat(4, "resolution", 250, "Resolution of immediate problem, with emotional or thematic closure",
				"Satisfy story question. Emotional landing. Hint at larger world continuing."),
		},
	},
	"free_mystery": {
		Name: "mystery_short", Genre: "mystery", Tier: models.TierFree, TotalWords: FreeTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "incident", 350, "Present the mystery or crime",
				"Establish what's wrong. Introduce detective/protagonist."),
			beat(2, "investigation", 500, "Gather clues, interview, discover leads",
				"Show protagonist's method. Plant clues for reader. Red herring optional."),
			beat(3, "revelation", 400, "Key insight or breakthrough",
				"Protagonist connects the dots. Aha moment."),
			beat(4, "solution", 250, "Mystery solved, explanation",
				"Reveal answer. Show protagonist's satisfaction or reflection."),
		},
	},
	"free_romance": {
		Name: "romance_short", Genre: "romance", Tier: models.TierFree, TotalWords: FreeTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "setup", 400, "Introduce characters and situation",
				"Show protagonist's emotional state. Set up meeting or interaction."),
			beat(2, "connection", 450, "Romantic interaction or deepening bond",
				"Chemistry, vulnerability, or shared moment. Show attraction/connection."),
			beat(3, "complication", 400, "Obstacle or misunderstanding",
				"Something threatens the connection. Internal or external conflict."),
			beat(4, "resolution", 250, "Overcome obstacle, emotional payoff",
				"Vulnerability wins. Sweet or hopeful ending. Connection strengthened."),
		},
	},
	"premium_scifi": {
		Name: "scifi_adventure_full", Genre: "sci-fi", Tier: models.TierPremium, TotalWords: PremiumTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "opening_hook", 500, "Establish world, protagonist, and normal",
				"Rich world-building. Show protagonist's skills/personality. Hint at adventure to come."),
			beat(2, "inciting_incident", 500, "Call to adventure or problem emerges",
				"Disrupt the normal. Present the challenge. Show stakes."),
			beat(3, "rising_action", 500, "Protagonist engages, complications arise",
				"Active protagonist. Obstacles emerge. World expands."),
			beat(4, "first_revelation", 500, "Discovery or twist that changes understanding",
				"New information. Paradigm shift. Stakes raise."),
			beat(5, "midpoint_crisis", 600, "Major setback or challenge",
				"All seems lost OR false victory. Emotional low or high."),
			beat(6, "renewed_push", 600, "Protagonist adapts, new approach",
				"Character growth. New strategy. Building to climax."),
			beat(7, "climax", 500, "Confrontation or final challenge",
				"Peak action/tension. Protagonist uses what they've learned."),
			beat(8, "resolution", 500, "Immediate aftermath and victory/outcome",
				"Show results. Emotional payoff. Consequences."),
			beat(9, "denouement", 300, "Return to new normal, reflection",
				"Show growth. Thematic closure. World continues."),
		},
	},
	"premium_mystery": {
		Name: "mystery_noir_full", Genre: "mystery", Tier: models.TierPremium, TotalWords: PremiumTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "setup", 500, "Introduce detective and world",
				"Noir atmosphere. Show detective's life/personality."),
			beat(2, "case_arrives", 500, "Crime or mystery presented",
				"The hook. Why this case matters. Initial details."),
			beat(3, "first_clues", 500, "Investigation begins, gather evidence",
				"Detective method. Plant clues. Introduce suspects."),
			beat(4, "red_herring", 500, "False lead or misdirection",
				"Seems promising but wrong. Keep reader guessing."),
			beat(5, "complication", 600, "New crime, threat, or setback",
				"Stakes raise. Detective in danger or case gets personal."),
			beat(6, "breakthrough", 600, "Key insight or evidence found",
				"Pieces come together. Detective sees the pattern."),
			beat(7, "confrontation", 500, "Confront culprit or reveal truth",
				"Tension peaks. Truth comes out. Danger."),
			beat(8, "resolution", 500, "Case closed, justice or consequence",
				"Wrap up loose ends. Show outcome."),
			beat(9, "reflection", 300, "Detective reflects, returns to life",
				"Noir wisdom. Thematic landing. Bitter or sweet."),
		},
	},
	"premium_romance": {
		Name: "romance_full", Genre: "romance", Tier: models.TierPremium, TotalWords: PremiumTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "introduction", 500, "Introduce protagonist and their world",
				"Show protagonist's life, emotional state, desires."),
			beat(2, "meet_cute", 500, "First meeting or meaningful interaction",
				"Chemistry. Spark. Interesting dynamic."),
			beat(3, "growing_connection", 500, "Spend time together, bond deepens",
				"Vulnerability. Shared moments. Attraction builds."),
			beat(4, "first_barrier", 500, "Internal resistance or external obstacle",
				"Fear, past hurt, circumstances. Tension."),
			beat(5, "turning_point", 600, "Breakthrough moment or confession",
				"Emotional honesty. Risk taken. Relationship shifts."),
			beat(6, "complication", 600, "Misunderstanding or serious obstacle",
				"Something threatens to tear them apart. Dark night."),
			beat(7, "realization", 500, "Character growth, understanding what matters",
				"Internal change. Clarity about feelings."),
			beat(8, "grand_gesture", 500, "One or both take decisive action",
				"Vulnerability. Risk. Putting it all on the line."),
			beat(9, "resolution", 300, "Together, emotional payoff",
				"Satisfying ending. Hope or happiness. New beginning."),
		},
	},
	"premium_sitcom": {
		Name: "sitcom_full", Genre: "sitcom", Tier: models.TierPremium, TotalWords: PremiumTotalWords,
		Beats: []models.BeatSpec{
			beat(1, "normal_day", 500, "Establish characters and normal situation",
				"Show relationships. Light humor. Set baseline."),
			beat(2, "disruption", 500, "Something goes wrong or unusual happens",
				"Comic premise. Small problem that will escalate."),
			beat(3, "attempted_fix", 500, "Try to solve it, makes it worse",
				"Character flaws cause problems. Escalation."),
			beat(4, "escalation", 500, "Problem grows, more chaos",
				"Snowball effect. Multiple characters involved."),
			beat(5, "peak_chaos", 600, "Everything falls apart hilariously",
				"Maximum comedy. Multiple threads colliding."),
			beat(6, "moment_of_truth", 600, "Honest moment amidst the chaos",
				"Heart. Character insight. Why we care."),
			beat(7, "resolution", 500, "Problem solved or accepted",
				"Fix it together. Teamwork or acceptance."),
			beat(8, "new_normal", 500, "Return to normalish, lessons learned",
				"Back to baseline but slightly changed."),
			beat(9, "tag", 300, "Callback joke or sweet moment",
				"Button on the episode. Warm ending."),
		},
	},
}

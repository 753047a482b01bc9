package live

// Voice is a selectable persona for the live session. ProviderVoice is the name
// sent to the realtime provider.
type Voice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ProviderVoice string `json:"providerVoice"`
}

const DefaultVoiceID = "gt-pilot"

var voices = []Voice{
	{"gt-pilot", "GT-Pilot", "Deep, composed, protective. Streaming-native voice with cinematic clarity.", "ash"},
	{"baritone-neo", "Baritone Neo", "Deep, urban-smart, cinematic clarity with educator cadence.", "verse"},
	{"oracle", "Oracle", "Warm, wise, female.", "sage"},
	{"sentinel", "Sentinel", "Robotic, neutral, AI.", "alloy"},
	{"commander", "Commander", "Assertive, clear, male.", "ash"},
	{"echo", "Echo", "Soft, gentle, female.", "shimmer"},
	{"titan", "Titan", "Deep, resonant, cinematic narrator.", "verse"},
	{"muse", "Muse", "Energetic, bright, female.", "coral"},
	{"vector", "Vector", "Sharp, precise, AI.", "alloy"},
	{"aura", "Aura", "Warm, reassuring, female.", "shimmer"},
	{"goliath", "Goliath", "Powerful, booming, male.", "ballad"},
	{"seraph", "Seraph", "Elegant, sharp, female.", "sage"},
	{"unit734", "Unit 734", "Classic robot, monotone.", "alloy"},
	{"ghost", "Ghost", "Whispery, calm, male.", "echo"},
	{"willow", "Willow", "Soft-spoken, kind, female.", "coral"},
}

// Voices returns the selectable voices in display order.
func Voices() []Voice {
	return append([]Voice(nil), voices...)
}

func LookupVoice(id string) (Voice, bool) {
	for _, v := range voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

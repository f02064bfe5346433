package content

import "strings"

// Mood is the closed set of labels the triage step may assign to a search hit.
type Mood string

const (
	MoodAfraid      Mood = "afraid"
	MoodAnxious     Mood = "anxious"
	MoodLonely      Mood = "lonely"
	MoodSad         Mood = "sad"
	MoodAngry       Mood = "angry"
	MoodConfused    Mood = "confused"
	MoodDiscouraged Mood = "discouraged"
	MoodGuilty      Mood = "guilty"
	MoodStressed    Mood = "stressed"
	MoodHopeless    Mood = "hopeless"
	MoodGrateful    Mood = "grateful"
	MoodJealous     Mood = "jealous"
)

// DefaultMood replaces any label outside the closed set.
const DefaultMood = MoodSad

// references maps every mood to verse ids in BOOK.CHAPTER.VERSE form.
var references = map[Mood][]string{
	MoodAfraid:      {"PSA.34.4", "MAT.10.28", "PSA.56.3", "ISA.41.10", "JOS.1.9", "PSA.27.1", "HEB.13.6", "PSA.118.6", "ISA.43.1", "DEU.31.6"},
	MoodAnxious:     {"PHP.4.6", "PHP.4.7", "MAT.6.26", "MAT.6.34", "1PE.5.7", "PSA.55.22", "ISA.26.3", "JHN.14.27", "PSA.94.19", "LUK.12.25"},
	MoodLonely:      {"DEU.31.6", "HEB.13.5", "PSA.139.7", "ISA.41.10", "MAT.28.20", "PSA.68.6", "JHN.14.18", "PSA.25.16", "1KI.19.10", "PSA.27.10"},
	MoodSad:         {"PSA.34.18", "PSA.147.3", "MAT.5.4", "JHN.16.33", "REV.21.4", "PSA.30.5", "2CO.1.4", "ISA.61.3", "PSA.42.11", "LAM.3.22"},
	MoodAngry:       {"EPH.4.26", "PRO.29.11", "JAS.1.19", "JAS.1.20", "PRO.15.1", "PRO.16.32", "COL.3.8", "EPH.4.31", "PSA.37.8", "GAL.5.22"},
	MoodConfused:    {"PRO.3.5", "PRO.3.6", "JAS.1.5", "1CO.14.33", "PSA.32.8", "ISA.30.21", "JER.33.3", "PSA.119.105", "JHN.16.13", "PRO.27.9"},
	MoodDiscouraged: {"ISA.40.31", "PSA.42.5", "JHN.16.33", "PHP.4.13", "GAL.6.9", "PSA.73.26", "2CO.4.16", "PSA.31.24", "HEB.12.3", "ROM.8.28"},
	MoodGuilty:      {"1JN.1.9", "PSA.51.1", "PSA.51.10", "ROM.8.1", "ISA.43.25", "PSA.103.12", "MIC.7.18", "ACT.3.19", "PSA.32.5", "EPH.1.7"},
	MoodStressed:    {"MAT.11.28", "PSA.23.1", "PSA.23.2", "ISA.26.3", "JHN.14.27", "PHP.4.19", "PSA.55.22", "MAT.6.26", "PSA.46.10", "2TH.3.16"},
	MoodHopeless:    {"JER.29.11", "ROM.15.13", "PSA.42.5", "LAM.3.21", "LAM.3.22", "HEB.6.19", "ISA.40.31", "PSA.71.14", "ROM.5.5", "JOB.11.18"},
	MoodGrateful:    {"PSA.100.4", "1TH.5.18", "PHP.4.6", "COL.3.17", "PSA.107.1", "EPH.5.20", "PSA.118.24", "PSA.103.2", "HEB.13.15", "PSA.136.1"},
	MoodJealous:     {"PRO.14.30", "GAL.5.26", "JAS.3.16", "1CO.13.4", "ROM.13.13", "TIT.3.3", "GAL.5.19", "PRO.27.4", "ECC.4.4", "1PE.2.1"},
}

var moods = []Mood{
	MoodAfraid, MoodAnxious, MoodLonely, MoodSad, MoodAngry, MoodConfused,
	MoodDiscouraged, MoodGuilty, MoodStressed, MoodHopeless, MoodGrateful, MoodJealous,
}

// Moods lists every label in a stable order.
func Moods() []Mood {
	out := make([]Mood, len(moods))
	copy(out, moods)
	return out
}

func (m Mood) Valid() bool {
	_, ok := references[m]
	return ok
}

func (m Mood) String() string { return string(m) }

// ParseMood normalizes s and coerces anything unrecognized to DefaultMood.
func ParseMood(s string) Mood {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return DefaultMood
	}
	return m
}

// References returns the verse ids for m.
func References(m Mood) []string {
	refs := references[ParseMood(string(m))]
	out := make([]string, len(refs))
	copy(out, refs)
	return out
}

package extract

import (
	"regexp"
	"strings"
)

// reforges are display-name prefixes added by reforging; they carry no
// identity and are stripped before the name is tracked.
var reforges = []string{
	"Ancient", "Auspicious", "Awkward", "Bitterly", "Blessed", "Bloody",
	"Bountiful", "Brilliant", "Bulky", "Candied", "Clean", "Deadly", "Demonic",
	"Deplorable", "Dirty", "Double-Bit", "Epic", "Excellent", "Fabled",
	"Fair", "Fast", "Fierce", "Fine", "Fleet", "Fortified", "Fortunate",
	"Fruitful", "Gentle", "Gilded", "Godly", "Grand", "Great", "Hasty",
	"Heated", "Heavy", "Heroic", "Legendary", "Light", "Lucky", "Lumberjack's",
	"Magnetic", "Mithraic", "Moil", "Mythic", "Neat", "Necrotic", "Odd",
	"Perfect", "Pitchin'", "Precise", "Pure", "Rapid", "Refined", "Reinforced",
	"Renowned", "Rich", "Ridiculous", "Sharp", "Shiny", "Smart", "Spicy",
	"Spiked", "Spiritual", "Stellar", "Stiff", "Strong", "Submerged",
	"Suspicious", "Sweet", "Titanic", "Toil", "Treacherous", "Unpleasant",
	"Unreal", "Very", "Warped", "Wise", "Withered", "Zealous",
}

var (
	colorCodes = regexp.MustCompile(`§.`)
	// pet/skill level decorations like "[Lvl 87] " before the name
	levelPrefix = regexp.MustCompile(`^\[Lvl \d+\] `)
	// dungeon upgrade stars and the master-star variants
	stars         = regexp.MustCompile(`[✪➊➋➌➍➎⚚✦]+\s*$`)
	reforgePrefix *regexp.Regexp
)

func init() {
	reforgePrefix = regexp.MustCompile(`^(?:` + strings.Join(reforges, "|") + `) `)
}

// CleanName strips reforge prefixes, level decorations, color codes and
// upgrade stars from a display name, leaving the canonical item name.
func CleanName(name string) string {
	name = colorCodes.ReplaceAllString(name, "")
	name = levelPrefix.ReplaceAllString(name, "")
	name = reforgePrefix.ReplaceAllString(name, "")
	name = stars.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// Abbreviation derives the "abr" modifier value: the first rune of each
// word in a multi-word name ("Aspect of the End" -> "AotE").
func Abbreviation(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		r := []rune(p)
		b.WriteRune(r[0])
	}
	return b.String()
}

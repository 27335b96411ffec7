// Package items holds the item-level classification glue: the fallback
// category heuristic used when a brand-new item row is created, and icon
// URL construction. The tracker core treats these as collaborators; none
// of this logic affects modifier accounting.
package items

import (
	"strings"

	"github.com/auctionlens/itemtrack/api"
)

// FallbackCategory classifies an auction's item when the store has never
// seen its tag. The upstream category string wins when recognized;
// otherwise a chain of tag suffix/prefix rules applies.
func FallbackCategory(a api.Auction) api.ItemCategory {
	if c, ok := api.ParseCategory(strings.ToUpper(a.Category)); ok && c != api.CategoryUnknown {
		return c
	}
	return classifyTag(a.Tag)
}

func classifyTag(tag string) api.ItemCategory {
	switch {
	case strings.HasSuffix(tag, "_PERSONALITY"):
		return api.CategoryMinionSkin
	case strings.HasSuffix(tag, "_ISLAND_CRYSTAL"):
		return api.CategoryIslandCrystal
	case strings.HasSuffix(tag, "_ISLAND"):
		return api.CategoryPrivateIsland
	case strings.HasSuffix(tag, "_FRAGMENT"):
		return api.CategoryFragment
	case strings.HasSuffix(tag, "_SACK"):
		return api.CategorySack
	case strings.HasSuffix(tag, "_PORTAL"):
		return api.CategoryPortal
	case strings.HasSuffix(tag, "_BACKPACK"):
		return api.CategoryBackpack
	case strings.HasSuffix(tag, "TALISMAN_ENRICHMENT"):
		return api.CategoryTalismanEnrichment
	case strings.HasSuffix(tag, "THE_FISH"):
		return api.CategoryTheFish
	case strings.HasPrefix(tag, "PET_SKIN"):
		return api.CategoryPetSkin
	case strings.HasPrefix(tag, "PET_"):
		return api.CategoryPet
	default:
		return api.CategoryUnknown
	}
}

// IconURL builds the fallback icon location for a tag.
func IconURL(baseURL, tag string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + tag
}

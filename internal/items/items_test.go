package items

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/auctionlens/itemtrack/api"
)

func TestFallbackCategoryUpstreamWins(t *testing.T) {
	c := FallbackCategory(api.Auction{Tag: "PET_WOLF", Category: "SWORD"})
	assert.Equal(t, api.CategorySword, c)
}

func TestFallbackCategoryTagRules(t *testing.T) {
	cases := []struct {
		tag  string
		want api.ItemCategory
	}{
		{"JERRY_PERSONALITY", api.CategoryMinionSkin},
		{"WINTER_ISLAND", api.CategoryPrivateIsland},
		{"WINTER_ISLAND_CRYSTAL", api.CategoryIslandCrystal},
		{"DIAMANTE_FRAGMENT", api.CategoryFragment},
		{"WHEAT_SACK", api.CategorySack},
		{"END_PORTAL", api.CategoryPortal},
		{"SMALL_BACKPACK", api.CategoryBackpack},
		{"PET_SKIN_WOLF", api.CategoryPetSkin},
		{"PET_WOLF", api.CategoryPet},
		{"SOMETHING_ELSE", api.CategoryUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FallbackCategory(api.Auction{Tag: c.tag}), c.tag)
	}
}

func TestIconURL(t *testing.T) {
	assert.Equal(t, "https://example.com/icon/PET_WOLF",
		IconURL("https://example.com/icon/", "PET_WOLF"))
}

package api

import "strconv"

// Auction is one observed item instance from the marketplace stream.
// It is ephemeral input: the tracker reads it, extracts attribute pairs
// and discards it. Field names follow the upstream feed.
type Auction struct {
	// Tag is the canonical item type identifier (e.g. "ASPECT_OF_THE_END").
	Tag string `json:"tag"`
	// ItemName is the display name, possibly decorated with reforge and level.
	ItemName string `json:"itemName"`
	Tier     Tier   `json:"tier"`
	// Category as reported upstream; may be empty or unknown.
	Category string `json:"category"`
	Count    int    `json:"count"`
	Reforge  string `json:"reforge"`
	// UID is a uniform random discriminant assigned upstream, used for
	// sampling decisions (detail extraction runs on a fixed residue class).
	UID          int64             `json:"uid"`
	Enchantments []Enchantment     `json:"enchantments,omitempty"`
	// FlatNBT holds the flattened NBT fields of the item stack.
	// Values may themselves be serialized JSON for nested structures.
	FlatNBT map[string]string `json:"flatNbt,omitempty"`
	// Context carries free-form extras; "lore" is the item description.
	Context map[string]string `json:"context,omitempty"`
}

// Enchantment is one (type, level) pair on an item stack.
type Enchantment struct {
	Type  string `json:"type"`
	Level int    `json:"level"`
}

// Tier is the rarity tier of an item.
type Tier int

const (
	TierUnknown Tier = iota
	TierCommon
	TierUncommon
	TierRare
	TierEpic
	TierLegendary
	TierMythic
	TierDivine
	TierSpecial
	TierVerySpecial
)

var tierNames = []string{
	"UNKNOWN", "COMMON", "UNCOMMON", "RARE", "EPIC",
	"LEGENDARY", "MYTHIC", "DIVINE", "SPECIAL", "VERY_SPECIAL",
}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return "UNKNOWN"
	}
	return tierNames[t]
}

// ParseTier maps an upstream tier name to a Tier. Unrecognized names
// map to TierUnknown.
func ParseTier(s string) Tier {
	for i, n := range tierNames {
		if n == s {
			return Tier(i)
		}
	}
	return TierUnknown
}

// The feed carries tiers by name, so Tier crosses JSON as a string.

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	*t = ParseTier(s)
	return nil
}

// ItemCategory groups items by their function.
type ItemCategory int

const (
	CategoryUnknown ItemCategory = iota
	CategoryPetItem
	CategorySword
	CategoryChestplate
	CategoryHelmet
	CategoryReforgeStone
	CategoryCosmetic
	CategoryAxe
	CategoryLeggings
	CategoryAccessory
	CategoryBow
	CategoryTravelScroll
	CategoryBoots
	CategoryHoe
	CategoryBait
	CategoryFishingRod
	CategoryDungeonPass
	CategoryArrow
	CategorySpade
	CategoryShears
	CategoryPickaxe
	CategoryArrowPoison
	CategoryWand
	CategoryDrill
	CategoryFishingWeapon
	CategoryGauntlet
	CategoryFurniture
	CategoryGenerator
	CategoryMinionSkin
	CategoryPrivateIsland
	CategoryIslandCrystal
	CategoryFragment
	CategorySlayer
	CategoryDungeon
	CategoryDeepCaverns
	CategorySack
	CategoryPortal
	CategoryBackpack
	CategoryDungeonItem
	CategoryTalismanEnrichment
	CategoryTheFish
	CategoryPetSkin
	CategoryPet
)

var categoryNames = []string{
	"UNKNOWN", "PET_ITEM", "SWORD", "CHESTPLATE", "HELMET", "REFORGE_STONE",
	"COSMETIC", "AXE", "LEGGINGS", "ACCESSORY", "BOW", "TRAVEL_SCROLL",
	"BOOTS", "HOE", "BAIT", "FISHING_ROD", "DUNGEON_PASS", "ARROW", "SPADE",
	"SHEARS", "PICKAXE", "ARROW_POISON", "WAND", "DRILL", "FISHING_WEAPON",
	"GAUNTLET", "FURNITURE", "GENERATOR", "MINION_SKIN", "PRIVATE_ISLAND",
	"ISLAND_CRYSTAL", "FRAGMENT", "SLAYER", "DUNGEON", "DEEP_CAVERNS",
	"SACK", "PORTAL", "BACKPACK", "DUNGEON_ITEM", "TALISMAN_ENRICHMENT",
	"THE_FISH", "PET_SKIN", "PET",
}

func (c ItemCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "UNKNOWN"
	}
	return categoryNames[c]
}

// ParseCategory maps an upstream category name to an ItemCategory.
// The bool reports whether the name was recognized.
func ParseCategory(s string) (ItemCategory, bool) {
	for i, n := range categoryNames {
		if n == s {
			return ItemCategory(i), true
		}
	}
	return CategoryUnknown, false
}

// Categories returns all known categories, in declaration order.
func Categories() []ItemCategory {
	out := make([]ItemCategory, len(categoryNames))
	for i := range categoryNames {
		out[i] = ItemCategory(i)
	}
	return out
}

// ItemFlags is a bitmask of item properties.
type ItemFlags int

const (
	FlagBazaar ItemFlags = 1 << iota
	FlagTradeable
	FlagAuction
	FlagCraft
	FlagGlowing
	FlagMuseum
	FlagFiresale
)

// Has reports whether all bits of f are set.
func (fl ItemFlags) Has(f ItemFlags) bool { return fl&f == f }

// ValueKind classifies a modifier value once, at insert time.
// Read paths never re-infer the kind from string content.
type ValueKind int

const (
	KindText ValueKind = iota
	KindInteger
)

// ClassifyValue decides the kind of a modifier value. Integer-parseable
// strings are KindInteger, everything else KindText.
func ClassifyValue(s string) ValueKind {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return KindInteger
	}
	return KindText
}

// SearchResult is one hit of the item search endpoint.
type SearchResult struct {
	Tag   string    `json:"tag"`
	Text  string    `json:"text"`
	Flags ItemFlags `json:"flags"`
}

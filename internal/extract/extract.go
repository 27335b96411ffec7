// Package extract turns one observed auction into the set of attribute
// (slug, value) pairs it contributes to the modifier store. Extraction is
// pure: no persistence, no shared state, per-field failures are logged and
// skipped without failing the instance.
package extract

import (
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
)

// EnchantPrefix is the reserved slug prefix for enchantment pairs. It
// cannot collide with NBT field names, which never start with '!'.
const EnchantPrefix = "!ench"

// Sentinel is the value stored for denylisted keys so their presence is
// still counted without retaining high-entropy values.
const Sentinel = "exists"

// MaxValueLen bounds stored attribute values; longer values are truncated.
const MaxValueLen = 150

// MaxSlugLen bounds attribute keys.
const MaxSlugLen = 40

// Pair is one extracted (attribute-key, attribute-value) contribution.
type Pair struct {
	Slug  string
	Value string
}

// denylist holds NBT keys whose raw values are identifiers, not statistics.
// Their presence is tracked via the sentinel value instead.
var denylist = map[string]struct{}{
	"uid":                          {},
	"exp":                          {},
	"spawnedFor":                   {},
	"bossId":                       {},
	"hideRightClick":               {},
	"noMove":                       {},
	"hideInfo":                     {},
	"initiator_player":             {},
	"builder's_wand_data":          {},
	"frosty_the_snow_blaster_data": {},
	"party_hat_year":               {},
	"raffle_year":                  {},
	"mined_crops":                  {},
	"farmed_cultivating":           {},
	"uniqueId":                     {},
	"basePrice":                    {},
	"auction":                      {},
	"bid":                          {},
	"price":                        {},
}

// Denylisted reports whether the key's value must not be stored.
func Denylisted(key string) bool {
	_, ok := denylist[key]
	return ok
}

// UUIDKey reports whether the key is uuid-suffixed. Such keys are never
// persisted, not even as a sentinel, and the trimmer purges any that slip
// through from older data.
func UUIDKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "uuid")
}

// Extractor converts auctions into attribute pairs.
type Extractor struct {
	lg *zap.Logger
}

func New(lg *zap.Logger) *Extractor {
	return &Extractor{lg: lg}
}

// Extract returns the attribute pairs of one auction. The item description
// (lore) is returned separately; it feeds the description table, not the
// modifier table.
func (e *Extractor) Extract(a api.Auction) (pairs []Pair, lore string, ok bool) {
	for key, raw := range a.FlatNBT {
		pairs = e.appendNBT(pairs, a.Tag, key, raw)
	}

	for _, ench := range a.Enchantments {
		pairs = append(pairs, e.clamp(a.Tag, Pair{
			Slug:  EnchantPrefix + strings.ToLower(ench.Type),
			Value: strconv.Itoa(ench.Level),
		}))
	}

	if a.Reforge != "" && !strings.EqualFold(a.Reforge, "none") {
		pairs = append(pairs, e.clamp(a.Tag, Pair{Slug: "reforge", Value: a.Reforge}))
	}
	if a.Count > 1 {
		pairs = append(pairs, Pair{Slug: "count", Value: strconv.Itoa(a.Count)})
	}
	if a.Tier != api.TierUnknown {
		pairs = append(pairs, Pair{Slug: "tier", Value: a.Tier.String()})
	}
	if name := CleanName(a.ItemName); name != "" {
		pairs = append(pairs, e.clamp(a.Tag, Pair{Slug: "name", Value: name}))
	}

	lore, ok = a.Context["lore"]
	return pairs, lore, ok && lore != ""
}

// appendNBT adds the contributions of a single flattened NBT field,
// expanding nested JSON values into dot-joined child keys.
func (e *Extractor) appendNBT(pairs []Pair, tag, key, raw string) []Pair {
	if UUIDKey(key) {
		return pairs
	}
	if Denylisted(key) {
		return append(pairs, Pair{Slug: clampSlug(key), Value: Sentinel})
	}

	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		parsed, err := oj.ParseString(trimmed)
		if err != nil {
			e.lg.Warn("skipping malformed nested field",
				zap.String("tag", tag), zap.String("key", key), zap.Error(err))
			return pairs
		}
		return e.flatten(pairs, tag, key, parsed)
	}

	return append(pairs, e.clamp(tag, Pair{Slug: key, Value: raw}))
}

// flatten walks a parsed JSON value, emitting one pair per scalar leaf.
func (e *Extractor) flatten(pairs []Pair, tag, prefix string, v any) []Pair {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := prefix + "." + k
			if UUIDKey(key) {
				continue
			}
			pairs = e.flatten(pairs, tag, key, child)
		}
	case []any:
		for _, child := range val {
			pairs = e.flatten(pairs, tag, prefix, child)
		}
	case nil:
		// absent leaf, nothing to count
	default:
		pairs = append(pairs, e.clamp(tag, Pair{Slug: prefix, Value: scalarString(val)}))
	}
	return pairs
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return oj.JSON(val)
	}
}

func (e *Extractor) clamp(tag string, p Pair) Pair {
	p.Slug = clampSlug(p.Slug)
	if len(p.Value) > MaxValueLen {
		e.lg.Warn("truncating oversized value",
			zap.String("tag", tag), zap.String("slug", p.Slug), zap.Int("len", len(p.Value)))
		p.Value = p.Value[:MaxValueLen]
	}
	return p
}

func clampSlug(s string) string {
	if len(s) > MaxSlugLen {
		return s[:MaxSlugLen]
	}
	return s
}

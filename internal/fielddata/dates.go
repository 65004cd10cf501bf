package fielddata

import (
	"context"
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

// DateLookup substitutes a per-user effective date for a date-typed field:
// individual due-date extensions and self-paced schedule shifts.
type DateLookup interface {
	// EffectiveDate returns the date the user should see for the field,
	// and whether a substitution applies.
	EffectiveDate(ctx context.Context, b *block.Authored, field string, authored time.Time) (time.Time, bool)
}

// ExtensionDateLookup applies explicit per-user extensions, longest wins.
type ExtensionDateLookup struct {
	// extensions is keyed by "<usage-key>.<field>".
	extensions map[string]time.Time
}

func NewExtensionDateLookup() *ExtensionDateLookup {
	return &ExtensionDateLookup{extensions: map[string]time.Time{}}
}

func (d *ExtensionDateLookup) Extend(b *block.Authored, field string, until time.Time) {
	key := b.UsageKey.String() + "." + field
	if cur, ok := d.extensions[key]; !ok || until.After(cur) {
		d.extensions[key] = until
	}
}

func (d *ExtensionDateLookup) EffectiveDate(ctx context.Context, b *block.Authored, field string, authored time.Time) (time.Time, bool) {
	until, ok := d.extensions[b.UsageKey.String()+"."+field]
	if !ok || !until.After(authored) {
		return time.Time{}, false
	}
	return until, true
}

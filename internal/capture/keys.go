package capture

import "strings"

// Change-detail keys. The naming is a stable, persisted contract read by the
// undo engine and by history tooling.
const (
	// KeyCreated maps to the sorted labels of an entity created by the Action.
	KeyCreated = "created"

	prefixCreatedProp    = "createdProp:"
	prefixAddedLabel     = "addedLabel:"
	prefixRemovedLabel   = "removedLabel:"
	prefixNewProp        = "newProp:"
	prefixOldProp        = "oldProp:"
	prefixNewRel         = "newRel:"
	prefixNewRelProp     = "newRelProp:"
	prefixDeletedRel     = "deletedRel:"
	prefixDeletedRelProp = "deletedRelProp:"
)

// KeyKind identifies what a change-detail key describes.
type KeyKind int

// Key kinds, one per change-detail key family.
const (
	// KindUnknown is any key ParseKey does not recognize.
	KindUnknown KeyKind = iota
	// KindCreated is the "created" key.
	KindCreated
	// KindCreatedProp is an initial property value of a created entity.
	KindCreatedProp
	// KindAddedLabel is a label added to a pre-existing entity.
	KindAddedLabel
	// KindRemovedLabel is a label removed from a pre-existing entity.
	KindRemovedLabel
	// KindNewProp is a property's value after the Action.
	KindNewProp
	// KindOldProp is a property's value before the Action.
	KindOldProp
	// KindNewRel is a relationship the Action created.
	KindNewRel
	// KindNewRelProp is a property of a created relationship.
	KindNewRelProp
	// KindDeletedRel is a relationship the Action deleted.
	KindDeletedRel
	// KindDeletedRelProp is a property of a deleted relationship, as it was
	// at delete time.
	KindDeletedRelProp
)

// Key is a parsed change-detail key. Name is a label or property name; RelID
// and RelType are set for relationship keys (Name holds the property of
// relationship property keys).
type Key struct {
	Kind    KeyKind
	Name    string
	RelID   string
	RelType string
}

// CreatedPropKey returns "createdProp:<name>".
func CreatedPropKey(name string) string { return prefixCreatedProp + name }

// AddedLabelKey returns "addedLabel:<label>".
func AddedLabelKey(label string) string { return prefixAddedLabel + label }

// RemovedLabelKey returns "removedLabel:<label>".
func RemovedLabelKey(label string) string { return prefixRemovedLabel + label }

// NewPropKey returns "newProp:<name>".
func NewPropKey(name string) string { return prefixNewProp + name }

// OldPropKey returns "oldProp:<name>".
func OldPropKey(name string) string { return prefixOldProp + name }

// NewRelKey returns "newRel:<relID>:<relType>"; its value is the end id.
func NewRelKey(relID, relType string) string {
	return prefixNewRel + relID + ":" + relType
}

// NewRelPropKey returns "newRelProp:<relID>:<prop>".
func NewRelPropKey(relID, prop string) string {
	return prefixNewRelProp + relID + ":" + prop
}

// DeletedRelKey returns "deletedRel:<relID>:<relType>"; its value is the end
// id.
func DeletedRelKey(relID, relType string) string {
	return prefixDeletedRel + relID + ":" + relType
}

// DeletedRelPropKey returns "deletedRelProp:<relID>:<prop>".
func DeletedRelPropKey(relID, prop string) string {
	return prefixDeletedRelProp + relID + ":" + prop
}

// ParseKey decodes a change-detail key. Relationship ids never contain ':'
// so the first ':' after the prefix separates id from type or property.
func ParseKey(key string) Key {
	if key == KeyCreated {
		return Key{Kind: KindCreated}
	}

	simple := []struct {
		prefix string
		kind   KeyKind
	}{
		{prefixCreatedProp, KindCreatedProp},
		{prefixAddedLabel, KindAddedLabel},
		{prefixRemovedLabel, KindRemovedLabel},
		{prefixNewProp, KindNewProp},
		{prefixOldProp, KindOldProp},
	}
	for _, s := range simple {
		if name, ok := strings.CutPrefix(key, s.prefix); ok {
			return Key{Kind: s.kind, Name: name}
		}
	}

	rel := []struct {
		prefix string
		kind   KeyKind
		isProp bool
	}{
		{prefixNewRelProp, KindNewRelProp, true},
		{prefixNewRel, KindNewRel, false},
		{prefixDeletedRelProp, KindDeletedRelProp, true},
		{prefixDeletedRel, KindDeletedRel, false},
	}
	for _, r := range rel {
		rest, ok := strings.CutPrefix(key, r.prefix)
		if !ok {
			continue
		}
		id, tail, ok := strings.Cut(rest, ":")
		if !ok {
			return Key{}
		}
		if r.isProp {
			return Key{Kind: r.kind, RelID: id, Name: tail}
		}
		return Key{Kind: r.kind, RelID: id, RelType: tail}
	}
	return Key{}
}

package conflict

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// pick chooses one field value. With a base, a side that left the field
// untouched yields to the other. When both changed (or there is no base),
// preferLocal decides.
func pick[T comparable](local, remote T, base *T, preferLocal bool) T {
	if base != nil {
		if local == *base {
			return remote
		}
		if remote == *base {
			return local
		}
	}
	if local == remote || preferLocal {
		return local
	}
	return remote
}

func pickTime(local, remote time.Time, base *time.Time, preferLocal bool) time.Time {
	if base != nil {
		if local.Equal(*base) {
			return remote
		}
		if remote.Equal(*base) {
			return local
		}
	}
	if local.Equal(remote) || preferLocal {
		return local
	}
	return remote
}

// unionIDs returns the set union of both lists, local order first.
func unionIDs(local, remote []string) []string {
	var out []string
	seen := make(map[string]bool, len(local)+len(remote))
	for _, id := range append(slices.Clone(local), remote...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// mergeList applies three-way semantics to a whole list: if only one side
// changed it, that side wins; if both did, the lists are unioned.
func mergeList(local, remote []string, base *[]string) []string {
	if base != nil {
		if slices.Equal(local, *base) {
			return slices.Clone(remote)
		}
		if slices.Equal(remote, *base) {
			return slices.Clone(local)
		}
	}
	return unionIDs(local, remote)
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// mergeEntries merges keyed entries keeping the one with the later
// timestamp. Ties keep the local entry.
func mergeEntries[E any](local, remote []E, key func(E) string, at func(E) time.Time) []E {
	idx := make(map[string]int, len(local))
	out := make([]E, 0, len(local)+len(remote))
	for _, e := range local {
		k := key(e)
		if i, ok := idx[k]; ok {
			if at(e).After(at(out[i])) {
				out[i] = e
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	for _, e := range remote {
		k := key(e)
		if i, ok := idx[k]; ok {
			if at(e).After(at(out[i])) {
				out[i] = e
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func field[P, T any](base *P, get func(P) T) *T {
	if base == nil {
		return nil
	}
	v := get(*base)
	return &v
}

// mergeEvent merges scalar fields against the base. Without a base (a
// create conflict) every scalar comes from the newer side; guests and RSVPs
// merge the same way in both cases.
func mergeEvent(l, r models.Event, b *models.Event, localNewer bool) models.Event {
	out := models.Event{
		Title:       pick(l.Title, r.Title, field(b, func(e models.Event) string { return e.Title }), localNewer),
		Description: pick(l.Description, r.Description, field(b, func(e models.Event) string { return e.Description }), localNewer),
		Location:    pick(l.Location, r.Location, field(b, func(e models.Event) string { return e.Location }), localNewer),
		StartsAt:    pickTime(l.StartsAt, r.StartsAt, field(b, func(e models.Event) time.Time { return e.StartsAt }), localNewer),
		EndsAt:      pickTime(l.EndsAt, r.EndsAt, field(b, func(e models.Event) time.Time { return e.EndsAt }), localNewer),
		RSVPs: mergeEntries(l.RSVPs, r.RSVPs,
			func(v models.RSVP) string { return v.UserID },
			func(v models.RSVP) time.Time { return v.UpdatedAt }),
		Guests: unionIDs(l.Guests, r.Guests),
	}
	return out
}

func mergeStory(l, r models.Story, b *models.Story) models.Story {
	return models.Story{
		Title:    pick(l.Title, r.Title, field(b, func(s models.Story) string { return s.Title }), true),
		Body:     pick(l.Body, r.Body, field(b, func(s models.Story) string { return s.Body }), true),
		AuthorID: pick(l.AuthorID, r.AuthorID, field(b, func(s models.Story) string { return s.AuthorID }), true),
		Tags:     mergeList(l.Tags, r.Tags, field(b, func(s models.Story) []string { return s.Tags })),
		MediaIDs: mergeList(l.MediaIDs, r.MediaIDs, field(b, func(s models.Story) []string { return s.MediaIDs })),
	}
}

func mergeFamilyMember(l, r models.FamilyMember, b *models.FamilyMember) models.FamilyMember {
	return models.FamilyMember{
		Name:      pick(l.Name, r.Name, field(b, func(m models.FamilyMember) string { return m.Name }), true),
		BirthDate: pick(l.BirthDate, r.BirthDate, field(b, func(m models.FamilyMember) string { return m.BirthDate }), true),
		DeathDate: pick(l.DeathDate, r.DeathDate, field(b, func(m models.FamilyMember) string { return m.DeathDate }), true),
		Bio:       pick(l.Bio, r.Bio, field(b, func(m models.FamilyMember) string { return m.Bio }), true),
		ParentIDs: unionIDs(l.ParentIDs, r.ParentIDs),
		ChildIDs:  unionIDs(l.ChildIDs, r.ChildIDs),
		SpouseIDs: unionIDs(l.SpouseIDs, r.SpouseIDs),
	}
}

func mergeMessage(l, r models.Message, localNewer bool) models.Message {
	out := r
	if localNewer {
		out = l
	}
	out.Reactions = mergeEntries(l.Reactions, r.Reactions,
		func(v models.Reaction) string { return v.UserID + "\x00" + v.Emoji },
		func(v models.Reaction) time.Time { return v.UpdatedAt })
	return out
}

func mergeVaultItem(l, r models.VaultItem, localNewer bool) models.VaultItem {
	out := r
	if localNewer {
		out = l
	}
	out.Members = unionIDs(l.Members, r.Members)
	return out
}

package querycache

// ListID is the sentinel id of the tag that stands for a whole collection.
const ListID = "LIST"

// Tag associates cached query results with the mutations that invalidate them.
type Tag struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ListTag returns the collection tag of an entity type.
func ListTag(entityType string) Tag {
	return Tag{Type: entityType, ID: ListID}
}

// EntityTag returns the tag of one entity.
func EntityTag(entityType, id string) Tag {
	return Tag{Type: entityType, ID: id}
}

// IsList reports whether t is a collection tag.
func (t Tag) IsList() bool {
	return t.ID == ListID
}

func (t Tag) String() string {
	return t.Type + ":" + t.ID
}

// intersects reports whether any tag of a is in b.
func intersects(a []Tag, b map[Tag]struct{}) bool {
	for _, t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}

func tagSet(tags []Tag) map[Tag]struct{} {
	set := make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func tagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

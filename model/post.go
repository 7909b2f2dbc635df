package model

// Post is a record of the placeholder posts API the search and product labs read.
type Post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// PostFromMap converts a decoded JSON object into a Post. ok is false when the
// id or title is missing or has the wrong type.
func PostFromMap(m map[string]any) (Post, bool) {
	id, ok := asInt(m["id"])
	if !ok {
		return Post{}, false
	}
	title, ok := m["title"].(string)
	if !ok {
		return Post{}, false
	}
	p := Post{ID: id, Title: title}
	if uid, ok := asInt(m["userId"]); ok {
		p.UserID = uid
	}
	if body, ok := m["body"].(string); ok {
		p.Body = body
	}
	return p, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

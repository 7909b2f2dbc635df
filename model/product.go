package model

// Product is one row of the product list.
type Product struct {
	ID    int     `json:"id" yaml:"id"`
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}

// ProductFromPost derives a product from a post: the name is the first 20
// characters of the title and the price is ten times the id.
func ProductFromPost(p Post) Product {
	return Product{
		ID:    p.ID,
		Name:  truncateRunes(p.Title, 20),
		Price: float64(p.ID) * 10,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package domain

// Product is a catalog entry referenced by trip lines.
type Product struct {
	ID       string
	Name     string
	Category Category
}

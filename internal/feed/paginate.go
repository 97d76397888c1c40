package feed

// PageSize is the number of articles shown per feed page.
const PageSize = 10

// Page is one slice of a feed.
type Page[T any] struct {
	Items      []T `json:"items"`
	Number     int `json:"page"`
	TotalPages int `json:"total_pages"`
}

// Paginate returns items[(page-1)*size : page*size] clipped to len(items).
// A page outside 1..TotalPages yields no items. TotalPages is 0 for an
// empty sequence.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = PageSize
	}
	p := Page[T]{
		Items:      []T{},
		Number:     page,
		TotalPages: (len(items) + size - 1) / size,
	}
	if page < 1 || page > p.TotalPages {
		return p
	}
	start := (page - 1) * size
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	p.Items = items[start:end]
	return p
}

// HasControls reports whether page controls should be rendered.
func (p Page[T]) HasControls() bool {
	return p.TotalPages > 1
}

// Numbers lists 1..TotalPages for rendering page controls.
func (p Page[T]) Numbers() []int {
	nums := make([]int, p.TotalPages)
	for i := range nums {
		nums[i] = i + 1
	}
	return nums
}

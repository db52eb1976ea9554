package tgui

import "fmt"

// PaginateSlice returns a sub-slice for the requested page and helper flags.
// page is 0-based and clamped to the last page. size must be > 0.
func PaginateSlice[T any](items []T, page, size int) (sub []T, page2 int, hasPrev bool, hasNext bool) {
	if size <= 0 {
		size = 10
	}
	page = min(max(page, 0), PageCount(len(items), size)-1)
	start := min(page*size, len(items))
	end := min(start+size, len(items))
	return items[start:end], page, page > 0, end < len(items)
}

// PageCount is the number of pages needed for total items, at least 1.
func PageCount(total, size int) int {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// PageLabel returns a compact, human-friendly pagination label.
// page is 0-based.
func PageLabel(page, size, total int) string {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return "Page 1/1"
	}
	pages := PageCount(total, size)
	page = min(max(page, 0), pages-1)
	from := page*size + 1
	to := min((page+1)*size, total)
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", page+1, pages, from, to, total)
}

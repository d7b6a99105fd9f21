package repository

import "gorm.io/gorm"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is 1-based. Out-of-range values are clamped, never rejected.
type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) offset() int {
	n := p.normalized()
	return (n.Page - 1) * n.PageSize
}

// paginate is a gorm scope applying the clamped offset and limit.
func (p PageRequest) paginate(db *gorm.DB) *gorm.DB {
	n := p.normalized()
	return db.Offset(n.offset()).Limit(n.PageSize)
}

func newPageResult[T any](p PageRequest, total int64) PageResult[T] {
	n := p.normalized()
	return PageResult[T]{
		Items:      []T{},
		Page:       n.Page,
		PageSize:   n.PageSize,
		Total:      total,
		TotalPages: totalPages(total, n.PageSize),
	}
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return int(pages)
}

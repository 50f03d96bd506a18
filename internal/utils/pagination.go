// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPagination parses page and page_size query values, applying defaults
// and bounding page_size to [1, 100].
//
// Example:
//
//	page, size := utils.ClampPagination("2", "50") // returns 2, 50
//	page, size = utils.ClampPagination("", "999")  // returns 1, 100
func ClampPagination(pageStr, sizeStr string) (page, pageSize int) {
	page = AtoiDefault(pageStr, 1)
	pageSize = AtoiDefault(sizeStr, 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

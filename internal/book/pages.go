package book

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePageRange parses a zero-based page selection like "0-4,7". An empty
// string selects every page. Out-of-range pages are an error.
func ParsePageRange(spec string, count int) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		out := make([]int, count)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var pages []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		for _, p := range tokenPages {
			if err := checkPage(p, count); err != nil {
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	return pages, nil
}

// parseRangeToken parses "3" or "1-5".
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}

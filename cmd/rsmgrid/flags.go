package main

import (
	"fmt"
	"strconv"
	"strings"

	"rsmgrid/internal/models"
)

// parseScans reads a scan list such as "14,15" or "14-17,20".
func parseScans(s string) ([]int, error) {
	var scans []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok && lo != "" {
			first, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("bad scan range %q", part)
			}
			last, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || last < first {
				return nil, fmt.Errorf("bad scan range %q", part)
			}
			for n := first; n <= last; n++ {
				scans = append(scans, n)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad scan number %q", part)
		}
		scans = append(scans, n)
	}
	if len(scans) == 0 {
		return nil, fmt.Errorf("no scans in %q", s)
	}
	return scans, nil
}

// parseResolution reads "n1,n2,n3"; a single value applies to all axes.
func parseResolution(s string) ([3]int, error) {
	var res [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != 3 {
		return res, fmt.Errorf("resolution %q: expected 1 or 3 values", s)
	}
	for i := range res {
		p := parts[0]
		if len(parts) == 3 {
			p = parts[i]
		}
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return res, fmt.Errorf("resolution %q: %w", s, err)
		}
		res[i] = n
	}
	return res, nil
}

// parseBox reads "h0:h1,k0:k1,l0:l1".
func parseBox(s string) (*models.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("bounding box %q: expected 3 ranges", s)
	}
	var box models.Box
	for i, p := range parts {
		lo, hi, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("bounding box %q: range %q needs min:max", s, p)
		}
		min, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("bounding box %q: %w", s, err)
		}
		max, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("bounding box %q: %w", s, err)
		}
		box[i] = models.Range{Min: min, Max: max}
	}
	return &box, nil
}

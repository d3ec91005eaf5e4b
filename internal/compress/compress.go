// Package compress implements the nested year/month/day/hms grouping
// requested by /simhash?compress=true.
package compress

import (
	"sort"
	"strconv"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/store"
)

// Capture is one (timestamp, encoded fingerprint) pair.
type Capture struct {
	Timestamp string
	Value     string
}

// FromEntries builds a Capture slice from cache MultiGet entries that
// were found, preserving order.
func FromEntries(entries []store.Entry) []Capture {
	captures := make([]Capture, 0, len(entries))
	for _, e := range entries {
		if !e.Found {
			continue
		}
		captures = append(captures, Capture{Timestamp: e.Field, Value: e.Value})
	}
	return captures
}

// Compress groups captures by the year/month/day/hms parts of their
// 14-digit timestamp. hashes is a deduplicated list of encoded
// fingerprints in first-seen order; captures is the nested structure
// described in spec §6, with each leaf replaced by an index into
// hashes.
func Compress(captures []Capture) (nested []interface{}, hashes []string) {
	hashIndex := make(map[string]int)
	type dayEntry struct {
		hms   string
		index int
	}
	type yearMonthDay = map[int]map[int]map[int][]dayEntry

	grouped := make(yearMonthDay)
	var years []int

	for _, rec := range captures {
		if len(rec.Timestamp) != 14 {
			continue
		}
		year := atoi(rec.Timestamp[0:4])
		month := atoi(rec.Timestamp[4:6])
		day := atoi(rec.Timestamp[6:8])
		hms := rec.Timestamp[8:]

		idx, ok := hashIndex[rec.Value]
		if !ok {
			idx = len(hashes)
			hashIndex[rec.Value] = idx
			hashes = append(hashes, rec.Value)
		}

		if _, ok := grouped[year]; !ok {
			grouped[year] = make(map[int]map[int][]dayEntry)
			years = append(years, year)
		}
		if _, ok := grouped[year][month]; !ok {
			grouped[year][month] = make(map[int][]dayEntry)
		}
		grouped[year][month][day] = append(grouped[year][month][day], dayEntry{hms: hms, index: idx})
	}

	sort.Ints(years)
	for _, year := range years {
		months := sortedKeys(grouped[year])
		yearEntry := []interface{}{year}
		for _, month := range months {
			days := sortedKeys(grouped[year][month])
			monthEntry := []interface{}{month}
			for _, day := range days {
				entries := grouped[year][month][day]
				leaves := make([]interface{}, 0, len(entries))
				for _, e := range entries {
					leaves = append(leaves, []interface{}{e.hms, e.index})
				}
				monthEntry = append(monthEntry, []interface{}{day, leaves})
			}
			yearEntry = append(yearEntry, monthEntry)
		}
		nested = append(nested, yearEntry)
	}
	return nested, hashes
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

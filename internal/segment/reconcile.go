// Package segment maps catalogue labels onto PDF pages and turns each
// resulting page range into a standalone, OCR'd sub-document.
package segment

import (
	"fmt"
	"sort"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

// PageRange is the absolute, inclusive page span of one catalogue entry.
type PageRange struct {
	StartPage     int    `json:"startPage"`
	EndPage       int    `json:"endPage"`
	Title         string `json:"title"`
	OriginalLabel int    `json:"originalLabel"`
	// SkipReason is set when the span falls outside the document.
	SkipReason string `json:"skipReason,omitempty"`
}

// Skipped reports whether the range must not be processed.
func (r PageRange) Skipped() bool { return r.SkipReason != "" }

// Pages lists the absolute pages of the range.
func (r PageRange) Pages() []int {
	if r.EndPage < r.StartPage {
		return nil
	}
	out := make([]int, 0, r.EndPage-r.StartPage+1)
	for p := r.StartPage; p <= r.EndPage; p++ {
		out = append(out, p)
	}
	return out
}

func (r PageRange) String() string {
	return fmt.Sprintf("%s (pages %d-%d)", r.Title, r.StartPage, r.EndPage)
}

// Plan is the reconciled layout of a document: one range per catalogue
// entry, in catalogue order.
type Plan struct {
	Offset    int
	PageCount int
	Ranges    []PageRange
}

// Runnable counts ranges that are not skipped.
func (p *Plan) Runnable() int {
	n := 0
	for _, r := range p.Ranges {
		if !r.Skipped() {
			n++
		}
	}
	return n
}

// Reconcile converts printed catalogue labels into absolute page ranges.
//
// contentPage is the absolute page carrying the first catalogue entry, so
// offset = contentPage - first label. Entry i spans
// [label_i + offset, label_{i+1} + offset - 1]; the last entry runs to the
// last page of the document. Ranges leaving [1, pageCount] stay in the plan
// with a SkipReason.
func Reconcile(cat *catalogue.Catalogue, contentPage, pageCount int) (*Plan, error) {
	if cat == nil || cat.Len() == 0 {
		return nil, domain.ValidationError("cannot reconcile an empty catalogue", domain.ErrEmptyCatalogue)
	}
	if contentPage < 1 {
		return nil, domain.ValidationError(fmt.Sprintf("content page must be >= 1, got %d", contentPage), nil)
	}
	if pageCount < 1 {
		return nil, domain.ValidationError(fmt.Sprintf("document has no pages (%d)", pageCount), nil)
	}

	entries := make([]catalogue.Entry, len(cat.Entries))
	copy(entries, cat.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].PageLabel < entries[j].PageLabel })

	offset := contentPage - entries[0].PageLabel
	plan := &Plan{Offset: offset, PageCount: pageCount, Ranges: make([]PageRange, 0, len(entries))}

	for i, e := range entries {
		r := PageRange{
			StartPage:     e.PageLabel + offset,
			Title:         e.Title,
			OriginalLabel: e.PageLabel,
		}
		if i+1 < len(entries) {
			r.EndPage = entries[i+1].PageLabel + offset - 1
		} else {
			r.EndPage = pageCount
		}

		switch {
		case r.StartPage < 1:
			r.SkipReason = fmt.Sprintf("start page %d is before the first page", r.StartPage)
		case r.StartPage > pageCount:
			r.SkipReason = fmt.Sprintf("start page %d exceeds page count %d", r.StartPage, pageCount)
		case r.EndPage > pageCount:
			r.SkipReason = fmt.Sprintf("end page %d exceeds page count %d", r.EndPage, pageCount)
		case r.EndPage < r.StartPage:
			r.SkipReason = fmt.Sprintf("empty span %d-%d", r.StartPage, r.EndPage)
		}

		plan.Ranges = append(plan.Ranges, r)
	}

	return plan, nil
}

package fhir

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Bundle types used by the server.
const (
	BundleSearchset           = "searchset"
	BundleHistory             = "history"
	BundleTransaction         = "transaction"
	BundleBatch               = "batch"
	BundleTransactionResponse = "transaction-response"
	BundleBatchResponse       = "batch-response"
)

// BundleLink is a Bundle.link element.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleSearch is the entry.search element of a searchset.
type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// BundleRequest is the entry.request element of a transaction/batch.
type BundleRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

// BundleResponse is the entry.response element of a *-response bundle.
type BundleResponse struct {
	Status   string      `json:"status"`
	Location string      `json:"location,omitempty"`
	ETag     string      `json:"etag,omitempty"`
	Outcome  interface{} `json:"outcome,omitempty"`
}

// BundleEntry is a Bundle.entry element.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource Resource        `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

// Bundle is a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// NewBundle builds an empty bundle of the given type.
func NewBundle(bundleType string) *Bundle {
	return &Bundle{ResourceType: "Bundle", Type: bundleType}
}

// SetTotal sets Bundle.total.
func (b *Bundle) SetTotal(n int) *Bundle {
	b.Total = &n
	return b
}

// AddMatch appends a searchset entry with search.mode=match.
func (b *Bundle) AddMatch(resourceType string, r Resource) {
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  FormatReference(resourceType, ResourceID(r)),
		Resource: r,
		Search:   &BundleSearch{Mode: "match"},
	})
}

// AddInclude appends a searchset entry with search.mode=include.
func (b *Bundle) AddInclude(r Resource) {
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  FormatReference(ResourceType(r), ResourceID(r)),
		Resource: r,
		Search:   &BundleSearch{Mode: "include"},
	})
}

// HasEntry reports whether an entry with the given fullUrl already exists.
func (b *Bundle) HasEntry(fullURL string) bool {
	for _, e := range b.Entry {
		if e.FullURL == fullURL {
			return true
		}
	}
	return false
}

// PaginationLinks builds self/next/previous links for a searchset. The
// base query keeps every original parameter except _count and _offset,
// which are re-appended from the effective values.
func PaginationLinks(resourceType string, params url.Values, count, offset, total int) []BundleLink {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "_count" || k == "_offset" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range params[k] {
			parts = append(parts, k+"="+url.QueryEscape(v))
		}
	}
	base := "/" + resourceType + "?"
	if len(parts) > 0 {
		base += strings.Join(parts, "&") + "&"
	}
	base += fmt.Sprintf("_count=%d", count)

	links := []BundleLink{
		{Relation: "self", URL: fmt.Sprintf("%s&_offset=%d", base, offset)},
	}
	// _count=0 pages cannot advance, so they never get a next link.
	if count > 0 && offset+count < total {
		links = append(links, BundleLink{Relation: "next", URL: fmt.Sprintf("%s&_offset=%d", base, offset+count)})
	}
	if offset > 0 {
		prev := offset - count
		if prev < 0 {
			prev = 0
		}
		links = append(links, BundleLink{Relation: "previous", URL: fmt.Sprintf("%s&_offset=%d", base, prev)})
	}
	return links
}

package query

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// Entry is one raw page parameter. page[relationships][comments][size]=5 is
// Entry{Key: []string{"relationships", "comments", "size"}, Value: "5"}.
type Entry struct {
	Key   []string
	Value string
}

// Pages are the navigation targets computed for a paged result
type Pages struct {
	First any
	Last  any
	Prev  any
	Next  any
}

// PageProvider owns the grammar and meaning of the page parameter
type PageProvider interface {
	// Schema validates a page value produced elsewhere (e.g. built by a client)
	Schema() schema.Schema
	// ExtractFromEntries builds a page value; malformed input returns an *apierror.ErrorSet
	ExtractFromEntries(entries []Entry) (any, error)
	// ToEntries is the inverse of ExtractFromEntries
	ToEntries(page any) []Entry
	// GetPages computes navigation pages for a result of total items
	GetPages(page any, total, limit int) Pages
}

// DefaultPageSize is used when page[size] is absent
const DefaultPageSize = 20

// Page is the value produced by NumberPages.
// Number is zero-based.
type Page struct {
	Number        int
	Size          int
	Relationships map[string]Page

	// keys records what was read from the request. A zero value renders
	// both number and size.
	keys pageKeys
}

type pageKeys uint8

const (
	keysExtracted pageKeys = 1 << iota
	keyNumber
	keySize
)

func (p Page) renders(key pageKeys) bool {
	return p.keys == 0 || p.keys&key != 0
}

// Offset returns the item offset of the page
func (p Page) Offset() int {
	return p.Number * p.Size
}

// NumberPages implements page[number] / page[size] pagination, with optional
// per-relationship pagination through page[relationships][<name>][number|size].
type NumberPages struct {
	DefaultSize int
	MaxSize     int
}

// NewNumberPages creates a provider with sane defaults
func NewNumberPages() *NumberPages {
	return &NumberPages{DefaultSize: DefaultPageSize, MaxSize: 100}
}

// Schema returns the page value validator
func (n *NumberPages) Schema() schema.Schema {
	return pageSchema{max: n.MaxSize}
}

// ExtractFromEntries parses raw page entries
func (n *NumberPages) ExtractFromEntries(entries []Entry) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	errs := apierror.NewErrorSet()
	page := Page{Size: n.defaultSize(), keys: keysExtracted}

	for _, entry := range entries {
		switch {
		case len(entry.Key) == 1:
			n.assign(&page, entry.Key[0], entry.Value, entry, errs)
		case len(entry.Key) == 3 && entry.Key[0] == "relationships" && entry.Key[1] != "":
			if page.Relationships == nil {
				page.Relationships = make(map[string]Page)
			}
			rel, ok := page.Relationships[entry.Key[1]]
			if !ok {
				rel = Page{Size: n.defaultSize(), keys: keysExtracted}
			}
			n.assign(&rel, entry.Key[2], entry.Value, entry, errs)
			page.Relationships[entry.Key[1]] = rel
		default:
			errs.Add(apierror.Query(apierror.ParamPage, fmt.Sprintf("unknown page parameter %s", formatKey(entry.Key))))
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (n *NumberPages) assign(page *Page, key, value string, entry Entry, errs *apierror.ErrorSet) {
	switch key {
	case "number":
		v, err := parseNonNegative(value)
		if err != nil {
			errs.Add(apierror.Query(apierror.ParamPage, fmt.Sprintf("%s %s", formatKey(entry.Key), err)))
			return
		}
		page.Number = v
		page.keys |= keyNumber
	case "size":
		v, err := parseNonNegative(value)
		if err != nil {
			errs.Add(apierror.Query(apierror.ParamPage, fmt.Sprintf("%s %s", formatKey(entry.Key), err)))
			return
		}
		if v == 0 || (n.MaxSize > 0 && v > n.MaxSize) {
			errs.Add(apierror.Query(apierror.ParamPage, fmt.Sprintf("%s must be between 1 and %d", formatKey(entry.Key), n.MaxSize)))
			return
		}
		page.Size = v
		page.keys |= keySize
	default:
		errs.Add(apierror.Query(apierror.ParamPage, fmt.Sprintf("unknown page parameter %s", formatKey(entry.Key))))
	}
}

// ToEntries renders a page value back to raw entries (stable order).
// Pages read from a request render only the keys the request carried.
func (n *NumberPages) ToEntries(value any) []Entry {
	page, ok := value.(Page)
	if !ok {
		return nil
	}

	entries := pageEntries(nil, page)

	names := make([]string, 0, len(page.Relationships))
	for name := range page.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, pageEntries([]string{"relationships", name}, page.Relationships[name])...)
	}
	return entries
}

func pageEntries(prefix []string, page Page) []Entry {
	var entries []Entry
	if page.renders(keyNumber) {
		entries = append(entries, Entry{Key: append(slices.Clone(prefix), "number"), Value: strconv.Itoa(page.Number)})
	}
	if page.renders(keySize) {
		entries = append(entries, Entry{Key: append(slices.Clone(prefix), "size"), Value: strconv.Itoa(page.Size)})
	}
	return entries
}

// GetPages computes first/last/prev/next pages.
// Prev and Next are nil when there is no such page.
func (n *NumberPages) GetPages(value any, total, limit int) Pages {
	page, ok := value.(Page)
	if !ok {
		page = Page{Size: n.defaultSize()}
	}
	if limit > 0 {
		page.Size = limit
	}
	if page.Size <= 0 {
		page.Size = n.defaultSize()
	}

	last := 0
	if total > 0 {
		last = (total - 1) / page.Size
	}

	pages := Pages{
		First: Page{Number: 0, Size: page.Size},
		Last:  Page{Number: last, Size: page.Size},
	}
	if page.Number > 0 {
		prev := page.Number - 1
		if prev > last {
			prev = last
		}
		pages.Prev = Page{Number: prev, Size: page.Size}
	}
	if page.Number < last {
		pages.Next = Page{Number: page.Number + 1, Size: page.Size}
	}
	return pages
}

func (n *NumberPages) defaultSize() int {
	if n.DefaultSize > 0 {
		return n.DefaultSize
	}
	return DefaultPageSize
}

type pageSchema struct {
	max int
}

func (s pageSchema) Is(value any, c *schema.Collector) bool {
	page, ok := value.(Page)
	if !ok {
		c.Report("must be a page value")
		return false
	}
	valid := checkPage(page, s.max, c)
	for name, rel := range page.Relationships {
		c.At("relationships", func() {
			c.At(name, func() {
				if !checkPage(rel, s.max, c) {
					valid = false
				}
			})
		})
	}
	return valid
}

func (s pageSchema) String() string { return "page" }

func checkPage(page Page, max int, c *schema.Collector) bool {
	valid := true
	if page.Number < 0 {
		c.At("number", func() { c.Report("must not be negative") })
		valid = false
	}
	if page.Size <= 0 || (max > 0 && page.Size > max) {
		c.At("size", func() { c.Report("must be between 1 and %d", max) })
		valid = false
	}
	return valid
}

func parseNonNegative(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("requires a value")
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return v, nil
}

func formatKey(key []string) string {
	s := "page"
	for _, k := range key {
		s += "[" + k + "]"
	}
	return s
}

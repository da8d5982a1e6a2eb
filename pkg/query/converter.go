package query

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
)

// ConverterConfig configures URL parsing and rendering
type ConverterConfig struct {
	// Domain is stripped from parsed URLs and prepended to rendered ones, e.g. "https://api.example.com"
	Domain string
	// Prefix is the API path prefix, e.g. "/api"; must start with "/" when set
	Prefix string
	// Pages owns the page parameter; defaults to NewNumberPages()
	Pages PageProvider
}

// Converter parses URLs into queries and renders queries back into URLs
type Converter struct {
	domain string
	prefix string
	pages  PageProvider
}

// NewConverter creates a converter
func NewConverter(config ConverterConfig) *Converter {
	pages := config.Pages
	if pages == nil {
		pages = NewNumberPages()
	}
	return &Converter{
		domain: strings.TrimSuffix(config.Domain, "/"),
		prefix: strings.TrimSuffix(config.Prefix, "/"),
		pages:  pages,
	}
}

// Pages returns the page provider used by the converter
func (c *Converter) Pages() PageProvider {
	return c.pages
}

// Parse parses a URL (absolute with domain, or path-only) into a Query.
// Malformed input returns an *apierror.ErrorSet listing every problem found.
func (c *Converter) Parse(rawURL string) (*Query, error) {
	path, rawQuery, _ := strings.Cut(rawURL, "?")

	ref, err := c.ParsePath(path)
	if err != nil {
		return nil, err
	}

	params, err := c.parseParams(rawQuery)
	if err != nil {
		return nil, err
	}

	return &Query{Ref: ref, Params: params}, nil
}

// ParsePath parses the ref-only portion of a URL:
// /{type}[/{id}[/relationships/{relationship} | /{relationship}]]
func (c *Converter) ParsePath(path string) (Ref, error) {
	if c.domain != "" {
		path = strings.TrimPrefix(path, c.domain)
	}
	if c.prefix != "" {
		rest, ok := strings.CutPrefix(path, c.prefix)
		if !ok || (rest != "" && rest[0] != '/') {
			return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, fmt.Sprintf("path must start with %s", c.prefix)))
		}
		path = rest
	}

	var segments []string
	for _, raw := range strings.Split(path, "/") {
		if raw == "" {
			continue
		}
		segment, err := url.PathUnescape(raw)
		if err != nil {
			return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, fmt.Sprintf("invalid path segment %q", raw)))
		}
		segments = append(segments, segment)
	}

	var ref Ref
	switch len(segments) {
	case 0:
		return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "resource type is missing"))
	case 1:
		ref.Type = segments[0]
	case 2:
		ref.Type, ref.ID = segments[0], segments[1]
	case 3:
		if segments[2] == "relationships" {
			return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "relationship name is missing"))
		}
		ref.Type, ref.ID, ref.Relationship, ref.Related = segments[0], segments[1], segments[2], true
	case 4:
		if segments[2] != "relationships" {
			return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, fmt.Sprintf("unexpected path segment %q", segments[2])))
		}
		ref.Type, ref.ID, ref.Relationship = segments[0], segments[1], segments[3]
	default:
		return Ref{}, apierror.NewErrorSet(apierror.Query(apierror.ParamQuery, "path has too many segments"))
	}

	return ref, nil
}

// parseParams processes the query string parameter by parameter
func (c *Converter) parseParams(rawQuery string) (*Params, error) {
	params := &Params{}
	errs := apierror.NewErrorSet()
	var pageEntries []Entry

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, hasValue := strings.Cut(pair, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			errs.Add(apierror.Query(apierror.ParamQuery, fmt.Sprintf("invalid parameter name %q", rawKey)))
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			errs.Add(apierror.Query(apierror.ParamQuery, fmt.Sprintf("invalid value for %q", key)))
			continue
		}

		name, brackets, err := splitKey(key)
		if err != nil {
			errs.Add(apierror.Query(apierror.ParamQuery, err.Error()))
			continue
		}

		switch name {
		case "include":
			if len(brackets) != 0 {
				errs.Add(apierror.Query(apierror.ParamInclude, "include does not take a key"))
				continue
			}
			include, err := parseInclude(value)
			if err != nil {
				errs.Add(err)
				continue
			}
			params.Include = append(params.Include, include...)

		case "sort":
			if len(brackets) != 0 {
				errs.Add(apierror.Query(apierror.ParamSort, "sort does not take a key"))
				continue
			}
			if !hasValue || value == "" {
				errs.Add(apierror.Query(apierror.ParamSort, "sort requires a value"))
				continue
			}
			sorts, err := parseSort(value)
			if err != nil {
				errs.Add(err)
				continue
			}
			params.Sort = append(params.Sort, sorts...)

		case "fields":
			if len(brackets) != 1 || brackets[0] == "" {
				errs.Add(apierror.Query(apierror.ParamFields, "fields requires exactly one type key: fields[type]"))
				continue
			}
			fields, err := parseList(value, apierror.ParamFields, "field")
			if err != nil {
				errs.Add(err)
				continue
			}
			if params.Fields == nil {
				params.Fields = make(map[string][]string)
			}
			params.Fields[brackets[0]] = fields

		case "filter":
			if len(brackets) != 1 || brackets[0] == "" {
				errs.Add(apierror.Query(apierror.ParamFilter, "filter requires exactly one field key: filter[field]"))
				continue
			}
			if params.Filter == nil {
				params.Filter = make(map[string][]string)
			}
			params.Filter[brackets[0]] = append(params.Filter[brackets[0]], value)

		case "page":
			if len(brackets) == 0 {
				errs.Add(apierror.Query(apierror.ParamPage, "page requires a key: page[name]"))
				continue
			}
			pageEntries = append(pageEntries, Entry{Key: brackets, Value: value})

		default:
			errs.Add(apierror.Query(apierror.ParamQuery, fmt.Sprintf("unknown query parameter %q", key)))
		}
	}

	if len(pageEntries) > 0 {
		page, err := c.pages.ExtractFromEntries(pageEntries)
		if err != nil {
			if set, ok := apierror.AsErrorSet(err); ok {
				errs.Append(set)
			} else {
				errs.Add(apierror.Query(apierror.ParamPage, err.Error()))
			}
		} else {
			params.Page = page
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return params, nil
}

// splitKey splits "fields[articles]" into ("fields", ["articles"])
func splitKey(key string) (string, []string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, nil
	}

	name := key[:open]
	var brackets []string
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed parameter name %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("malformed parameter name %q", key)
		}
		brackets = append(brackets, rest[1:end])
		rest = rest[end+1:]
	}
	return name, brackets, nil
}

func parseInclude(value string) ([][]string, *apierror.Error) {
	if value == "" {
		return nil, apierror.Query(apierror.ParamInclude, "include requires a value")
	}
	var include [][]string
	for _, path := range strings.Split(value, ",") {
		segments := strings.Split(path, ".")
		for _, segment := range segments {
			if segment == "" {
				return nil, apierror.Query(apierror.ParamInclude, fmt.Sprintf("empty relationship name in include path %q", path))
			}
		}
		include = append(include, segments)
	}
	return include, nil
}

func parseSort(value string) ([]Sort, *apierror.Error) {
	var sorts []Sort
	for _, item := range strings.Split(value, ",") {
		s := Sort{Field: item, Asc: true}
		if strings.HasPrefix(item, "-") {
			s.Field, s.Asc = item[1:], false
		}
		if s.Field == "" {
			return nil, apierror.Query(apierror.ParamSort, "empty sort field")
		}
		sorts = append(sorts, s)
	}
	return sorts, nil
}

// parseList splits a comma list; an empty value is an empty list
func parseList(value string, param apierror.Parameter, what string) ([]string, *apierror.Error) {
	if value == "" {
		return []string{}, nil
	}
	items := strings.Split(value, ",")
	for _, item := range items {
		if item == "" {
			return nil, apierror.Query(param, fmt.Sprintf("empty %s name in %q", what, value))
		}
	}
	return items, nil
}

// Make renders a query as a URL
func (c *Converter) Make(q *Query) string {
	path := c.MakePath(q.Ref)
	if q.Params == nil {
		return path
	}

	var parts []string
	p := q.Params

	if len(p.Include) > 0 {
		paths := make([]string, len(p.Include))
		for i, include := range p.Include {
			segments := make([]string, len(include))
			for j, segment := range include {
				segments[j] = escape(segment)
			}
			paths[i] = strings.Join(segments, ".")
		}
		parts = append(parts, "include="+strings.Join(paths, ","))
	}

	for _, t := range sortedKeys(p.Fields) {
		fields := make([]string, len(p.Fields[t]))
		for i, f := range p.Fields[t] {
			fields[i] = escape(f)
		}
		parts = append(parts, "fields["+escape(t)+"]="+strings.Join(fields, ","))
	}

	for _, field := range sortedKeys(p.Filter) {
		for _, value := range p.Filter[field] {
			parts = append(parts, "filter["+escape(field)+"]="+escape(value))
		}
	}

	if p.Page != nil {
		for _, entry := range c.pages.ToEntries(p.Page) {
			key := "page"
			for _, k := range entry.Key {
				key += "[" + escape(k) + "]"
			}
			parts = append(parts, key+"="+escape(entry.Value))
		}
	}

	if len(p.Sort) > 0 {
		sorts := make([]string, len(p.Sort))
		for i, s := range p.Sort {
			sorts[i] = escape(s.Field)
			if !s.Asc {
				sorts[i] = "-" + sorts[i]
			}
		}
		parts = append(parts, "sort="+strings.Join(sorts, ","))
	}

	if len(parts) == 0 {
		return path
	}
	return path + "?" + strings.Join(parts, "&")
}

// MakePath renders {domain}{prefix}/{type}[/{id}[/{relationship} | /relationships/{relationship}]]
func (c *Converter) MakePath(ref Ref) string {
	var b strings.Builder
	b.WriteString(c.domain)
	b.WriteString(c.prefix)
	b.WriteString("/")
	b.WriteString(url.PathEscape(ref.Type))
	if ref.ID != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(ref.ID))
		if ref.Relationship != "" {
			if !ref.Related {
				b.WriteString("/relationships")
			}
			b.WriteString("/")
			b.WriteString(url.PathEscape(ref.Relationship))
		}
	}
	return b.String()
}

// escape percent-encodes a single name or value; separators are added by the caller
func escape(s string) string {
	return url.QueryEscape(s)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

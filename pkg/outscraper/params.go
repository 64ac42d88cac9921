package outscraper

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Params is an ordered multi-valued query parameter set. Array values are
// sent as repeated bare keys (query=a&query=b), the only form the service
// accepts.
type Params struct {
	keys   []string
	values map[string][]string
}

func NewParams() *Params {
	return &Params{values: make(map[string][]string)}
}

// Add appends values under key, keeping first-seen key order. Indexed
// bracket suffixes (query[0], query[]) are folded into the bare key.
func (p *Params) Add(key string, values ...string) *Params {
	key = bareKey(key)
	if p.values == nil {
		p.values = make(map[string][]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
		p.values[key] = nil
	}
	p.values[key] = append(p.values[key], values...)
	return p
}

// Set replaces all values under key.
func (p *Params) Set(key string, values ...string) *Params {
	key = bareKey(key)
	if p.values != nil {
		if _, ok := p.values[key]; ok {
			p.values[key] = append([]string(nil), values...)
			return p
		}
	}
	return p.Add(key, values...)
}

// SetOptional sets key only when value is non-empty.
func (p *Params) SetOptional(key, value string) *Params {
	if value == "" {
		return p
	}
	return p.Set(key, value)
}

func (p *Params) SetInt(key string, value int) *Params {
	return p.Set(key, strconv.Itoa(value))
}

// SetBool sends 1 or 0, the form the service documents for flags.
func (p *Params) SetBool(key string, value bool) *Params {
	if value {
		return p.Set(key, "1")
	}
	return p.Set(key, "0")
}

func (p *Params) Get(key string) []string {
	if p == nil || p.values == nil {
		return nil
	}
	return p.values[bareKey(key)]
}

func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Encode renders the set as a query string without brackets or indexes.
func (p *Params) Encode() string {
	if p == nil || len(p.keys) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, k := range p.keys {
		ek := url.QueryEscape(k)
		for _, v := range p.values[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(ek)
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}

// Values converts the set into url.Values. Ordering between keys is lost.
func (p *Params) Values() url.Values {
	out := url.Values{}
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out[k] = append([]string(nil), p.values[k]...)
	}
	return out
}

// ParamsFromValues builds a Params from url.Values with keys in sorted order.
func ParamsFromValues(v url.Values) *Params {
	p := NewParams()
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Add(k, v[k]...)
	}
	return p
}

var (
	encodedIndexRe = regexp.MustCompile(`(?i)%5B[0-9]*%5D`)
	literalIndexRe = regexp.MustCompile(`\[[0-9]*\]`)
)

// StripIndexedKeys removes key[0]= / key%5B0%5D= artifacts that generic
// query serializers emit for arrays, leaving repeated bare keys.
func StripIndexedKeys(rawQuery string) string {
	if rawQuery == "" {
		return rawQuery
	}
	parts := strings.Split(rawQuery, "&")
	for i, part := range parts {
		key, rest, hasValue := strings.Cut(part, "=")
		key = encodedIndexRe.ReplaceAllString(key, "")
		key = literalIndexRe.ReplaceAllString(key, "")
		if hasValue {
			parts[i] = key + "=" + rest
		} else {
			parts[i] = key
		}
	}
	return strings.Join(parts, "&")
}

func bareKey(k string) string {
	return literalIndexRe.ReplaceAllString(encodedIndexRe.ReplaceAllString(k, ""), "")
}

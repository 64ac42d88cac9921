package outscraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsEncodeRepeatsBareKeys(t *testing.T) {
	p := NewParams().
		Add("query", "coffee shops, NY", "bars, LA").
		SetInt("limit", 10).
		SetBool("async", false)

	assert.Equal(t, "query=coffee+shops%2C+NY&query=bars%2C+LA&limit=10&async=0", p.Encode())
}

func TestParamsEncodeRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 3, 10, 101} {
		t.Run(fmt.Sprintf("batch-%d", size), func(t *testing.T) {
			values := make([]string, size)
			for i := range values {
				values[i] = fmt.Sprintf("query #%d [x] & y=%d", i, i)
			}

			encoded := NewParams().Add("query", values...).Encode()
			assert.NotContains(t, encoded, "%5B0%5D")
			assert.NotContains(t, encoded, "query[")
			assert.NotContains(t, encoded, "query%5B")

			decoded, err := url.ParseQuery(encoded)
			require.NoError(t, err)
			assert.Equal(t, values, decoded["query"])
			assert.Len(t, decoded, 1)
		})
	}
}

func TestParamsSetReplaces(t *testing.T) {
	p := NewParams().Add("a", "1", "2").Add("b", "x")
	p.Set("a", "3")
	p.SetOptional("c", "")
	p.SetOptional("d", "v")

	assert.Equal(t, []string{"a", "b", "d"}, p.Keys())
	assert.Equal(t, []string{"3"}, p.Get("a"))
	assert.Nil(t, p.Get("c"))
	assert.Equal(t, "a=3&b=x&d=v", p.Encode())
}

func TestNilParams(t *testing.T) {
	var p *Params
	assert.Equal(t, "", p.Encode())
	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Values())
}

func TestStripIndexedKeys(t *testing.T) {
	cases := map[string]string{
		"query%5B0%5D=a&query%5B1%5D=b&limit=5": "query=a&query=b&limit=5",
		"query%5b0%5d=a":                        "query=a",
		"query[0]=a&query[12]=b":                "query=a&query=b",
		"query[]=a&query[]=b":                   "query=a&query=b",
		"query=a%5B0%5D":                        "query=a%5B0%5D",
		"flag":                                  "flag",
		"":                                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripIndexedKeys(in), in)
	}
}

func TestParamsFromValuesFoldsBrackets(t *testing.T) {
	p := ParamsFromValues(url.Values{
		"query[]": {"a", "b"},
		"limit":   {"1"},
	})
	assert.Equal(t, []string{"limit", "query"}, p.Keys())
	assert.Equal(t, []string{"a", "b"}, p.Get("query"))
}

func TestBuildURLStripsEmbeddedIndexes(t *testing.T) {
	tr := newTransport(Config{APIKey: "k"}.GetDefaults(), nil, nil)

	got := tr.buildURL(Request{
		Path:   "/maps/search?query%5B0%5D=a&query%5B1%5D=b",
		Params: NewParams().SetInt("limit", 2),
	})
	assert.Equal(t, DefaultBaseURL+"/maps/search?query=a&query=b&limit=2", got)
	assert.False(t, strings.Contains(got, "%5B"))
}

func TestParamsFoldIndexedKeys(t *testing.T) {
	p := NewParams().
		Add("query[0]", "a").
		Add("query[1]", "b").
		Add("tags%5B%5D", "x").
		Set("limit[]", "5")

	assert.Equal(t, []string{"query", "tags", "limit"}, p.Keys())
	assert.Equal(t, []string{"a", "b"}, p.Get("query[7]"))
	assert.Equal(t, "query=a&query=b&tags=x&limit=5", p.Encode())
}

func TestIndexedKeysNeverReachTheWire(t *testing.T) {
	hc := scripted(`{"id":"t-1","status":"Pending"}`)
	c := newTestClient(t, hc, &sleepCounter{})

	_, err := c.Dispatch(context.Background(), Request{
		Path:   "maps/search",
		Params: NewParams().Add("query[0]", "a").Add("query[1]", "b"),
	}, SubmitOnly)
	require.NoError(t, err)

	calls := hc.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "query=a&query=b", calls[0].Query)
}

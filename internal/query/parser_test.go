package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akerley/webrank/internal/search"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want search.ParsedQuery
	}{
		{
			name: "plain terms",
			raw:  "go concurrency patterns",
			want: search.ParsedQuery{Terms: []string{"go", "concurrency", "patterns"}},
		},
		{
			name: "full mix",
			raw:  `"hello world" site:example.com -spam foo`,
			want: search.ParsedQuery{
				Terms:    []string{"foo"},
				Phrases:  []string{"hello world"},
				Excluded: []string{"spam"},
				Sites:    []string{"example.com"},
			},
		},
		{
			name: "phrase protects inner dash and site",
			raw:  `"odd -term site:inside.phrase" rest`,
			want: search.ParsedQuery{
				Terms:   []string{"rest"},
				Phrases: []string{"odd -term site:inside.phrase"},
			},
		},
		{
			name: "lowercases everything",
			raw:  `"Hello World" SITE:Example.COM -SPAM Foo`,
			want: search.ParsedQuery{
				Terms:    []string{"foo"},
				Phrases:  []string{"hello world"},
				Excluded: []string{"spam"},
				Sites:    []string{"example.com"},
			},
		},
		{
			name: "multiple sites and exclusions",
			raw:  "site:a.com site:b.org -x -y term",
			want: search.ParsedQuery{
				Terms:    []string{"term"},
				Excluded: []string{"x", "y"},
				Sites:    []string{"a.com", "b.org"},
			},
		},
		{
			name: "site filter only is empty",
			raw:  "site:example.com",
			want: search.ParsedQuery{Sites: []string{"example.com"}},
		},
		{
			name: "blank",
			raw:  "   ",
			want: search.ParsedQuery{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.raw)
			require.Equal(t, tc.want, got)
			require.Equal(t, len(tc.want.Terms) == 0 && len(tc.want.Phrases) == 0, got.Empty())
		})
	}
}

func TestLexicalQuery(t *testing.T) {
	t.Parallel()

	q := search.ParsedQuery{
		Terms:   []string{"foo", "bar"},
		Phrases: []string{"hello world"},
	}
	require.Equal(t, `foo bar "hello world"`, LexicalQuery(q))
	require.Equal(t, "", LexicalQuery(search.ParsedQuery{}))
}

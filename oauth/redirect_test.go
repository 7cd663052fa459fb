package oauth

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeURI(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		params    url.Values
		component Component
		want      string
	}{
		{
			name:   "code grant",
			base:   "https://thirdpartyapplication1/oauth/callback/",
			params: url.Values{"code": {"abc123"}, "state": {"xyz"}},
			want:   "https://thirdpartyapplication1/oauth/callback/?code=abc123&state=xyz",
		},
		{
			name:   "empty path becomes slash",
			base:   "https://client.example.com",
			params: url.Values{"code": {"c"}},
			want:   "https://client.example.com/?code=c",
		},
		{
			name:   "existing query is preserved",
			base:   "https://client.example.com/cb?tenant=acme",
			params: url.Values{"error": {"invalid_request"}},
			want:   "https://client.example.com/cb?error=invalid_request&tenant=acme",
		},
		{
			name:   "new values win",
			base:   "https://client.example.com/cb?state=old&x=1",
			params: url.Values{"state": {"new"}},
			want:   "https://client.example.com/cb?state=new&x=1",
		},
		{
			name:   "port is kept",
			base:   "http://localhost:8080/cb",
			params: url.Values{"code": {"c"}},
			want:   "http://localhost:8080/cb?code=c",
		},
		{
			name:      "fragment",
			base:      "https://spa.example.com/app?v=2",
			params:    url.Values{"access_token": {"tok"}, "token_type": {"bearer"}, "expires_in": {"3600"}},
			component: Fragment,
			want:      "https://spa.example.com/app?v=2#access_token=tok&expires_in=3600&token_type=bearer",
		},
		{
			name:   "values are escaped",
			base:   "https://client.example.com/cb",
			params: url.Values{"state": {"a b&c"}},
			want:   "https://client.example.com/cb?state=a+b%26c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeURI(tt.base, tt.params, tt.component)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MergeURI() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeURIIdempotent(t *testing.T) {
	params := url.Values{"code": {"abc"}, "state": {"s"}}
	for _, c := range []Component{Query, Fragment} {
		once, err := MergeURI("https://client.example.com/cb?x=1", params, c)
		require.NoError(t, err)
		twice, err := MergeURI(once, params, c)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "merging twice should equal merging once into the %s", c)
	}
}

func TestMergeURIComponentsDoNotMix(t *testing.T) {
	params := url.Values{"code": {"abc"}}

	q, err := MergeURI("https://client.example.com/cb", params, Query)
	require.NoError(t, err)
	u, _ := url.Parse(q)
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.Empty(t, u.Fragment)

	f, err := MergeURI("https://client.example.com/cb", params, Fragment)
	require.NoError(t, err)
	u, _ = url.Parse(f)
	assert.Empty(t, u.RawQuery)
	assert.Equal(t, "code=abc", u.Fragment)
}

func TestMergeURIErrors(t *testing.T) {
	_, err := MergeURI("/relative/path", url.Values{"a": {"b"}}, Query)
	assert.Error(t, err)

	_, err = MergeURI("https://client.example.com/%zz", url.Values{"a": {"b"}}, Query)
	assert.Error(t, err)
}

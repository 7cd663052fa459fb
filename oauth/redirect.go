package oauth

import (
	"net/url"

	"github.com/dpup/authorizer/errors"
)

// Component selects which part of a redirect URI parameters are merged into.
type Component int

const (
	// Query carries authorization code grant responses and errors.
	Query Component = iota

	// Fragment carries implicit grant responses, which must not reach server
	// logs or Referer headers.
	Fragment
)

func (c Component) String() string {
	if c == Fragment {
		return "fragment"
	}
	return "query"
}

// MergeURI merges params into the chosen component of base. Values in params
// replace existing values with the same key, and keys are written in sorted
// order, so merging the same params again yields the same URI. Every other
// component of base is preserved.
func MergeURI(base string, params url.Values, component Component) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.WrapPrefix(err, "invalid redirect uri", 0)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("invalid redirect uri %q: scheme and host are required", base)
	}

	query, fragment := u.RawQuery, u.EscapedFragment()
	target := &query
	if component == Fragment {
		target = &fragment
	}

	existing, err := url.ParseQuery(*target)
	if err != nil {
		return "", errors.WrapPrefix(err, "invalid redirect uri "+component.String(), 0)
	}
	for k, v := range params {
		existing[k] = v
	}
	*target = existing.Encode()

	out := u.Scheme + "://" + u.Host
	if path := u.EscapedPath(); path != "" {
		out += path
	} else {
		out += "/"
	}
	if query != "" {
		out += "?" + query
	}
	if fragment != "" {
		out += "#" + fragment
	}
	return out, nil
}

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		location string
		want     string
		present  bool
	}{
		{location: "", want: "", present: false},
		{location: "/", want: "", present: false},
		{location: "/abc123", want: "abc123", present: true},
		{location: "/abc123/", want: "abc123", present: true},
		{location: "/abc123/lobby/extra", want: "abc123", present: true},
		{location: "https://play.example/abc123?x=1#top", want: "abc123", present: true},
		{location: "https://play.example", want: "", present: false},
		{location: "abc123", want: "abc123", present: true},
	}

	for _, tc := range cases {
		t.Run(tc.location, func(t *testing.T) {
			got, ok := ParseLocation(tc.location).Current()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.present, ok)
		})
	}
}

func TestAdoptOnce(t *testing.T) {
	id := ParseLocation("/")
	assert.ErrorIs(t, id.Adopt(""), ErrNoSession)

	require.NoError(t, id.Adopt("s1"))
	got, ok := id.Current()
	assert.True(t, ok)
	assert.Equal(t, "s1", got)

	assert.ErrorIs(t, id.Adopt("s2"), ErrIdentityAdopted)
	got, _ = id.Current()
	assert.Equal(t, "s1", got)
}

func TestAdoptRejectedWhenLocationHasID(t *testing.T) {
	id := ParseLocation("/existing")
	assert.ErrorIs(t, id.Adopt("other"), ErrIdentityAdopted)
}

package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter_Censor(t *testing.T) {
	req := require.New(t)
	f, err := NewFilter([]string{"badger", "snake"}, '*')
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain word", "The badger is here", "The ****** is here"},
		{"repeated", "badger badger", "****** ******"},
		{"uppercase with separators", "S-N-A-K-E!", "*********!"},
		{"leet", "b4dg3r", "******"},
		{"unicode untouched", "Un été avec un badger", "Un été avec un ******"},
		{"no match", "hello there", "hello there"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Apply(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestFilter_Empty_List_Passes_Through(t *testing.T) {
	req := require.New(t)
	f, err := NewFilter(nil, '*')
	req.NoError(err)
	got, err := f.Apply("anything goes")
	req.NoError(err)
	req.Equal("anything goes", got)

	f, err = NewFilter([]string{"  ", "..."}, '*')
	req.NoError(err)
	got, err = f.Apply("still fine")
	req.NoError(err)
	req.Equal("still fine", got)
}

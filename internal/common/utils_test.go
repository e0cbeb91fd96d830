package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{"empty", nil, nil},
		{"single", []string{"Dublin"}, []string{"Dublin"}},
		{"comma separated", []string{"Dublin, Galway"}, []string{"Dublin", "Galway"}},
		{"repeated and mixed", []string{"A,B", " C ", ""}, []string{"A", "B", "C"}},
		{"blank items dropped", []string{",,A,, ,"}, []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.values...))
		})
	}
}

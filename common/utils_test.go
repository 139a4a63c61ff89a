package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		name   string
		want   bool
	}{
		{"topic/#", "topic/1", true},
		{"topic/#", "topic", true},
		{"topic/#", "topic/a/b", true},
		{"topic/+", "topic/1", true},
		{"topic/+", "topic/a/b", false},
		{"topic/+", "topic", false},
		{"+/+", "a/b", true},
		{"+/b/#", "a/b/c/d", true},
		{"#", "a/b", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+/c", "a//c", true},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.name))
		})
	}
}

func TestContainsWildcard(t *testing.T) {
	assert.True(t, ContainsWildcard("topic/#"))
	assert.True(t, ContainsWildcard("topic/+/a"))
	assert.False(t, ContainsWildcard("topic/a"))
	assert.False(t, ContainsWildcard(""))
}

func TestNanoID(t *testing.T) {
	assert.Len(t, NanoID(), 21)
	assert.Len(t, NanoID(8), 8)
	assert.NotEqual(t, NanoID(), NanoID())
}

func TestValidTopicFilter(t *testing.T) {
	for _, f := range []string{"#", "+", "a/#", "a/+/b", "+/+/#", "$SYS/#", "a/b"} {
		assert.True(t, ValidTopicFilter(f), f)
	}
	for _, f := range []string{"", "a/#/b", "a#", "a/b+", "#/a", "a/+b/c"} {
		assert.False(t, ValidTopicFilter(f), f)
	}
}

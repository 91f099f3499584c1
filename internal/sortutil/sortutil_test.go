package sortutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	set := map[string]struct{}{"b/build.gradle": {}, "a/build.gradle": {}, "settings.gradle": {}}
	assert.Equal(t, []string{"a/build.gradle", "b/build.gradle", "settings.gradle"}, SortedKeys(set))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

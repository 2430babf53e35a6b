package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"msg", "tell", "me"}, DedupeAndTrimLower([]string{" MSG ", "tell", "msg", "", "  ", "Me"}))
	assert.Empty(t, DedupeAndTrimLower(nil))
}

func TestSplitJoined(t *testing.T) {
	assert.Nil(t, SplitJoined("", ","))
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.9"}, SplitJoined("10.0.0.5, 10.0.0.9,", ","))
}

func TestAppendUnique(t *testing.T) {
	list, added := AppendUnique([]string{"a"}, "b")
	assert.True(t, added)
	assert.Equal(t, []string{"a", "b"}, list)

	list, added = AppendUnique(list, "a")
	assert.False(t, added)
	assert.Len(t, list, 2)
}

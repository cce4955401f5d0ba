package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		key     string
		want    bool
	}{
		{"collection member", CollectionReport, "report_R1", true},
		{"collection prefix only", CollectionReport, "report_", false},
		{"other collection", CollectionReport, "policy_P1", false},
		{"single key exact", PersonalDetailsList, "personalDetailsList", true},
		{"single key is not a prefix", PersonalDetailsList, "personalDetailsListExtra", false},
		{"all", All, "anything", true},
		{"all empty key", All, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.Matches(tt.key))
		})
	}
}

func TestPattern_IsCollection(t *testing.T) {
	assert.True(t, CollectionPolicy.IsCollection())
	assert.False(t, IsUsingMemoryOnlyKeys.IsCollection())
	assert.False(t, Pattern("_").IsCollection())
}

func TestCollectionKey(t *testing.T) {
	assert.Equal(t, "report_R1", CollectionKey(CollectionReport, "R1"))
	assert.True(t, CollectionReport.Matches(CollectionKey(CollectionReport, "R1")))
}

func TestPatternSet(t *testing.T) {
	set := NewPatternSet(CollectionReport, CollectionPolicy, PersonalDetailsList)

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Matches("policy_42"))
	assert.True(t, set.Matches("personalDetailsList"))
	assert.False(t, set.Matches("isUsingMemoryOnlyKeys"))

	clone := set.Clone()
	assert.True(t, set.Equal(clone))
	delete(clone, CollectionPolicy)
	assert.False(t, set.Equal(clone))
	assert.Equal(t, 3, set.Len(), "clone must not alias its source")

	assert.Equal(t, []string{"personalDetailsList", "policy_", "report_"}, set.Strings())

	var empty PatternSet
	assert.False(t, empty.Matches("report_R1"))
	assert.True(t, empty.Equal(NewPatternSet()))
}

func TestParsePatterns(t *testing.T) {
	patterns, err := ParsePatterns([]string{"report_", " policy_ "})
	require.NoError(t, err)
	assert.Equal(t, []Pattern{CollectionReport, CollectionPolicy}, patterns)

	_, err = ParsePatterns([]string{"report_", "  "})
	assert.Error(t, err)
}

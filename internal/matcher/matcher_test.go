package matcher

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/keywords"
)

func TestMatchSuffix(t *testing.T) {
	m := keywords.Map{"brb": "be right back", "addr": "221B Baker Street"}

	res, ok := Match("see you, brb", m, ' ')
	require.True(t, ok)
	assert.Equal(t, Result{Keyword: "brb", Snippet: "be right back", Trigger: ' '}, res)
	assert.Equal(t, "brb ", res.Suffix())
	assert.Equal(t, "be right back ", res.Replacement())

	// Suffix only, no word boundary required
	_, ok = Match("xbrb", m, ' ')
	assert.True(t, ok)

	// Case sensitive
	_, ok = Match("BRB", m, ' ')
	assert.False(t, ok)

	_, ok = Match("brb later", m, ' ')
	assert.False(t, ok)

	_, ok = Match("", m, ' ')
	assert.False(t, ok)
}

func TestLongestMatchWinsRegardlessOfOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		m := keywords.Map{}
		// Insertion order varies; map iteration is random anyway
		keys := []string{"c", "sig", "ig", "g", "xsig"}
		rng.Shuffle(len(keys), func(a, b int) { keys[a], keys[b] = keys[b], keys[a] })
		for _, k := range keys {
			m[k] = "<" + k + ">"
		}
		res, ok := NewIndex(m).Match("mysig", '.')
		require.True(t, ok)
		assert.Equal(t, "sig", res.Keyword, "iteration %d", i)
	}
}

func TestEqualLengthTieIsLexicographic(t *testing.T) {
	// Distinct keywords of equal length never both end the same text, so
	// the tie-break only fixes index order.
	ix := NewIndex(keywords.Map{"bb": "1", "aa": "2", "c": "3", "abc": "4"})
	assert.Equal(t, []string{"abc", "aa", "bb", "c"}, ix.Keywords())
	assert.Equal(t, 4, ix.Len())
}

func TestFeedbackGuard(t *testing.T) {
	m := keywords.Map{"ty": "thank you, ty"}
	_, reason := NewIndex(m).Explain("thank you, ty", ' ')
	assert.Equal(t, ReasonFeedback, reason)

	m = keywords.Map{"hi": "hello"}
	_, ok := Match("hello", m, ' ')
	assert.False(t, ok, "no candidate, nothing to guard")

	// Expanding twice does not re-expand
	ix := NewIndex(keywords.Map{"e": "see"})
	res, ok := ix.Match("e", ' ')
	require.True(t, ok)
	expanded := res.Snippet
	_, ok = ix.Match(expanded, ' ')
	assert.False(t, ok)
}

func TestFeedbackGuardDoesNotFallThrough(t *testing.T) {
	// The longest candidate is guarded; shorter ones are not tried
	ix := NewIndex(keywords.Map{"xyz": "axyz", "yz": "YZ"})
	_, reason := ix.Explain("axyz", ' ')
	assert.Equal(t, ReasonFeedback, reason)
}

func TestNonTriggerNeverMatchesThroughDetector(t *testing.T) {
	// The matcher itself trusts its caller; the detector is what rejects
	// letters. A letter-terminated text has its keyword mid-word.
	ix := NewIndex(keywords.Map{"hi": "hello"})
	_, ok := ix.Match("hix", 'x')
	assert.False(t, ok)
}

func TestEmptyKeywordIgnored(t *testing.T) {
	ix := NewIndex(keywords.Map{"": "nothing", "a": "A"})
	assert.Equal(t, 1, ix.Len())
	_, reason := ix.Explain("b", ' ')
	assert.Equal(t, ReasonNoCandidate, reason)
}

func TestMultibyteLengths(t *testing.T) {
	// "日本" is two characters but six bytes; "abcd" is four characters
	ix := NewIndex(keywords.Map{"日本": "Japan", "abcd": "ABCD"})
	assert.Equal(t, []string{"abcd", "日本"}, ix.Keywords())
}

func BenchmarkMatch(b *testing.B) {
	m := keywords.Map{}
	for i := 0; i < 500; i++ {
		m[fmt.Sprintf("kw%03d", i)] = fmt.Sprintf("snippet %d", i)
	}
	ix := NewIndex(m)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Match("some text then kw250", ' ')
	}
}

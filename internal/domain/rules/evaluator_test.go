package rules_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/rules"
	"github.com/stretchr/testify/require"
)

func TestMatches_EmptyRuleNeverMatches(t *testing.T) {
	e := rules.NewEvaluator(nil)

	ok, err := e.Matches(archive.TabSnapshot{URL: "https://anything"}, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatches_StartsWith(t *testing.T) {
	e := rules.NewEvaluator(nil)
	rule := `startsWith(tab.url, "https://mail.")`

	ok, err := e.Matches(archive.TabSnapshot{URL: "https://mail.example.com/inbox"}, rule)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Matches(archive.TabSnapshot{URL: "https://example.com"}, rule)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatches_Helpers(t *testing.T) {
	e := rules.NewEvaluator(nil)
	tab := archive.TabSnapshot{URL: "https://News.Example.com/feed.RSS", Title: "Daily News", Pinned: true}

	for _, tc := range []struct {
		rule string
		want bool
	}{
		{`endsWith(lower(tab.url), ".rss")`, true},
		{`upper(tab.title) == "DAILY NEWS"`, true},
		{`tab.title contains "News" && tab.pinned`, true},
		{`tab.pinned && tab.hidden`, false},
	} {
		ok, err := e.Matches(tab, tc.rule)
		require.NoError(t, err, tc.rule)
		require.Equal(t, tc.want, ok, tc.rule)
	}
}

func TestMatches_MatchRegexCaptures(t *testing.T) {
	e := rules.NewEvaluator(nil)
	tab := archive.TabSnapshot{URL: "https://github.com/acme/widgets/pull/42"}

	rule := `matchRegex(tab.url, "/github\\.com/([^/]+)/", "m") && m[1] == "acme"`
	ok, err := e.Matches(tab, rule)
	require.NoError(t, err)
	require.True(t, ok)

	rule = `matchRegex(tab.url, "/GITHUB/i")`
	ok, err = e.Matches(tab, rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatches_CaptureNameValidation(t *testing.T) {
	e := rules.NewEvaluator(nil)
	tab := archive.TabSnapshot{URL: "https://example.com"}

	_, err := e.Matches(tab, `matchRegex(tab.url, "x", "1bad")`)
	require.ErrorIs(t, err, rules.ErrBadCaptureName)

	_, err = e.Matches(tab, `matchRegex(tab.url, "x", "tab")`)
	require.ErrorIs(t, err, rules.ErrCaptureNameTaken)
}

func TestMatches_CaptureIsolationAcrossConcurrentEvaluations(t *testing.T) {
	e := rules.NewEvaluator(nil)

	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	oks := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := fmt.Sprintf("title%d", i)
			rule := fmt.Sprintf(`matchRegex(tab.title, "/(\\w+)/", "m") && m[1] == %q`, title)
			oks[i], errs[i] = e.Matches(archive.TabSnapshot{Title: title}, rule)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.True(t, oks[i], "evaluation %d leaked a capture from another goroutine", i)
	}
}

func TestValidate(t *testing.T) {
	e := rules.NewEvaluator(nil)

	require.NoError(t, e.Validate(""))
	require.NoError(t, e.Validate(`tab.url == "x"`))
	require.Error(t, e.Validate(`tab.url ==`))
	require.Error(t, e.Validate(`tab.url`))
}

func TestMatches_NonBooleanResult(t *testing.T) {
	e := rules.NewEvaluator(nil)

	_, err := e.Matches(archive.TabSnapshot{}, `tab.title`)
	require.ErrorIs(t, err, rules.ErrNotBoolean)
}

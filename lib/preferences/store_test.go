package preferences

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsWithoutDocument(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"), nil)

	assert.Equal(t, DefaultEntityPreference(), s.GetWithDefaults("any"))
	assert.Equal(t, DefaultGlobalPreferences(), s.GetGlobal())
	assert.Empty(t, s.IDs())
}

func TestLoadCurrentLayout(t *testing.T) {
	path := writeDoc(t, `{
		// comments are tolerated
		"containers": {
			"web_proxy": {"state": false, "actions": {"delete": false, "bogus": false}},
			"broken": "not an object",
		},
		"global": {"full_update_all": false}
	}`)
	s := NewStore(path, nil)

	pref := s.GetWithDefaults("web_proxy")
	assert.False(t, pref.State)
	assert.False(t, pref.Actions[ActionDelete])
	assert.True(t, pref.Actions[ActionStart])
	assert.NotContains(t, pref.Actions, "bogus")

	assert.Equal(t, []string{"web_proxy"}, s.IDs())
	assert.Equal(t, GlobalPreferences{DeleteUnusedImages: true, UpdatesOverview: true, FullUpdateAll: false}, s.GetGlobal())
}

func TestLoadLegacyFlatLayout(t *testing.T) {
	path := writeDoc(t, `{"media_plex": {"state": 0}, "media_sonarr": {"actions": {"stop": null}}}`)
	s := NewStore(path, nil)

	assert.False(t, s.GetWithDefaults("media_plex").State)
	sonarr := s.GetWithDefaults("media_sonarr")
	assert.True(t, sonarr.State)
	assert.False(t, sonarr.Actions[ActionStop])
	assert.Equal(t, DefaultGlobalPreferences(), s.GetGlobal())
}

func TestLoadMalformedFallsBack(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": `{{{`,
		"array":   `[1, 2]`,
		"string":  `"hello"`,
	} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(writeDoc(t, content), nil)
			assert.Empty(t, s.IDs())
			assert.Equal(t, DefaultGlobalPreferences(), s.GetGlobal())
		})
	}
}

func TestSetPreferencesPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	s := NewStore(path, nil)

	pref, err := s.SetPreferences("web_proxy", false, map[string]bool{ActionRestart: false})
	require.NoError(t, err)
	assert.False(t, pref.State)
	assert.False(t, pref.Actions[ActionRestart])
	assert.True(t, pref.Actions[ActionFullUpdate])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, pref, doc.Containers["web_proxy"])
	assert.Equal(t, DefaultGlobalPreferences(), doc.Global)
	assert.NoFileExists(t, path+".tmp")

	reloaded := NewStore(path, nil)
	assert.Equal(t, pref, reloaded.GetWithDefaults("web_proxy"))
}

func TestSetPreferencesRejectsUnknownAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s := NewStore(path, nil)

	_, err := s.SetPreferences("web_proxy", true, map[string]bool{"explode": true})
	require.ErrorIs(t, err, ErrUnknownAction)
	assert.NoFileExists(t, path)
	assert.Empty(t, s.IDs())
}

func TestBuildMapFor(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs.json"), nil)
	_, err := s.SetPreferences("a", false, nil)
	require.NoError(t, err)

	m := s.BuildMapFor([]string{"a", "b"})
	require.Len(t, m, 2)
	assert.False(t, m["a"].State)
	assert.Equal(t, DefaultEntityPreference(), m["b"])
	assert.Equal(t, []string{"a"}, s.IDs(), "defaults are not persisted")
}

func TestPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s := NewStore(path, nil)

	require.NoError(t, s.Prune([]string{"x"}))
	assert.NoFileExists(t, path, "nothing removed, nothing written")

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.SetPreferences(id, true, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Prune([]string{"b", "zzz"}))
	assert.Equal(t, []string{"b"}, s.IDs())

	reloaded := NewStore(path, nil)
	assert.Equal(t, []string{"b"}, reloaded.IDs())
}

func TestSetGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s := NewStore(path, nil)

	want := GlobalPreferences{DeleteUnusedImages: false, UpdatesOverview: true, FullUpdateAll: false}
	got, err := s.SetGlobal(want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, want, NewStore(path, nil).GetGlobal())
}

func TestActionEnabled(t *testing.T) {
	p := EntityPreference{State: true, Actions: map[string]bool{ActionStop: false}}
	assert.False(t, p.ActionEnabled(ActionStop))
	assert.True(t, p.ActionEnabled(ActionStart))
}

func TestFailedSaveKeepsPreviousState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s := NewStore(path, nil)
	_, err := s.SetPreferences("kept", false, nil)
	require.NoError(t, err)

	// A directory at the temp path makes every write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0755))

	_, err = s.SetPreferences("x", false, nil)
	require.Error(t, err)
	assert.True(t, s.GetWithDefaults("x").State)
	assert.Equal(t, []string{"kept"}, s.IDs())

	_, err = s.SetGlobal(GlobalPreferences{})
	require.Error(t, err)
	assert.Equal(t, DefaultGlobalPreferences(), s.GetGlobal())

	require.Error(t, s.Prune(nil))
	assert.Equal(t, []string{"kept"}, s.IDs())
	assert.False(t, s.GetWithDefaults("kept").State)

	// The document on disk still holds the last good state.
	reloaded := NewStore(path, nil)
	assert.Equal(t, []string{"kept"}, reloaded.IDs())
}

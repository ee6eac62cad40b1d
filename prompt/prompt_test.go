package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRequest(t *testing.T) {
	want := "Generate a complete unit test for the NbioBaseInit function.\n" +
		"Your output must include:\n" +
		"- Unit test header file (.h)\n" +
		"- Unit test source file (.c)\n" +
		"- Any necessary mocks or stubs\n" +
		"- Mock/Stub/Fake dependencies especially any sub-functions called by functions declared in the source file to prevent compiler linking issues\n" +
		"\n" +
		"Respond only with code blocks."
	assert.Equal(t, want, UserRequest("NbioBaseInit"))
}

func TestDefaultSystem_NamesEveryTool(t *testing.T) {
	sys := DefaultSystem()
	for _, name := range []string{
		"GET_SOURCE_FILE", "GET_TEST_TEMPLATE", "GET_DETAIL_FOR_ONE",
		"GET_FUNCTION_UT_DEPENDENCY", "GET_SIBLING_DEPENDENCY", "TERMINATE",
	} {
		assert.Contains(t, sys, name)
	}
	assert.Contains(t, sys, "Thought:")
}

func TestLoadSystem(t *testing.T) {
	s, err := LoadSystem("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSystem(), s)

	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.md")
	require.NoError(t, os.WriteFile(custom, []byte("Write shallow mocks only."), 0o644))
	s, err = LoadSystem(custom)
	require.NoError(t, err)
	assert.Equal(t, "Write shallow mocks only.", s)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err = LoadSystem(empty)
	assert.ErrorContains(t, err, "is empty")

	_, err = LoadSystem(filepath.Join(dir, "missing.md"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvironmentRender(t *testing.T) {
	env := Environment{
		Function:      "NbioBaseInit",
		SourceFile:    "/work/knowledge/sourcefile.c",
		KnowledgeBase: "knowledge/KnowledgeBase.json",
		Model:         "o4-mini",
		Date:          time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "<environment>\n"+
		"Function under test: NbioBaseInit\n"+
		"Source file: sourcefile.c\n"+
		"Knowledge base: knowledge/KnowledgeBase.json\n"+
		"Model: o4-mini\n"+
		"Today's date: 2026-03-04\n"+
		"</environment>", env.Render())

	minimal := Environment{Function: "F", Date: env.Date}.Render()
	assert.NotContains(t, minimal, "Model:")
	assert.NotContains(t, minimal, "Source file:")
}

func TestBuildSystem(t *testing.T) {
	env := Environment{Function: "F", Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	got := BuildSystem("Directive.\n", env, "")
	assert.Equal(t, "Directive.\n\n"+env.Render(), got)

	got = BuildSystem("Directive.", env, "# AGENTS.md (from /x)\n\nUse UtLogLib.")
	assert.True(t, strings.HasSuffix(got, "Use UtLogLib."))
}

func TestDiscoverProjectDocs(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, DiscoverProjectDocs(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("agents"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "UTGEN.md"), []byte("utgen"), 0o644))

	got := DiscoverProjectDocs(dir, dir)
	assert.Equal(t,
		"# AGENTS.md (from "+dir+")\n\nagents\n\n---\n\n# UTGEN.md (from "+dir+")\n\nutgen",
		got, "a directory listed twice is read once")
}

func TestDiscoverProjectDocs_Truncates(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", maxProjectDocBytes+10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte(big), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "UTGEN.md"), []byte("late"), 0o644))

	got := DiscoverProjectDocs(dir)
	assert.Contains(t, got, "[Project instructions truncated at 32KB]")
	assert.NotContains(t, got, "late")
}

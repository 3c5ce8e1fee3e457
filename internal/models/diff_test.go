package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeType_String(t *testing.T) {
	assert.Equal(t, "add", ChangeTypeAdd.String())
	assert.Equal(t, "multicopy", ChangeTypeMultiCopy.String())
	assert.Equal(t, "unknown(42)", ChangeType(42).String())
}

func TestChangeset_AnchorName(t *testing.T) {
	a := &Changeset{Filename: "src/main.go"}
	b := &Changeset{Filename: "src/main.go"}
	c := &Changeset{Filename: "src/other.go"}
	assert.Equal(t, a.AnchorName(), b.AnchorName())
	assert.NotEqual(t, a.AnchorName(), c.AnchorName())
	assert.Len(t, a.AnchorName(), 32)
}

func TestChangeset_AbsoluteRepositoryPath(t *testing.T) {
	tests := []struct {
		name string
		file string
		repo *Repository
		diff *Diff
		want string
	}{
		{name: "no diff", file: "a/b.go", want: "/a/b.go"},
		{name: "source control path", file: "/b.go", diff: &Diff{SourceControlPath: "file:///work/repo/"}, want: "/work/repo/b.go"},
		{
			name: "svn strips remote prefix",
			file: "trunk/x.c",
			repo: &Repository{VCS: VCSSubversion, RemoteURI: "svn+ssh://svn.example.com/repo/"},
			diff: &Diff{SourceControlPath: "svn+ssh://svn.example.com/repo/"},
			want: "/trunk/x.c",
		},
		{
			name: "git keeps path",
			file: "x.c",
			repo: &Repository{VCS: VCSGit, RemoteURI: "https://example.com/repo"},
			diff: &Diff{SourceControlPath: "/repo"},
			want: "/repo/x.c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Changeset{Filename: tt.file}
			assert.Equal(t, tt.want, c.AbsoluteRepositoryPath(tt.repo, tt.diff))
		})
	}
}

func TestChangeset_FirstLine(t *testing.T) {
	assert.Equal(t, 1, (&Changeset{}).FirstLine())
	assert.Equal(t, 12, (&Changeset{Metadata: map[string]string{"line:first": "12"}}).FirstLine())
	assert.Equal(t, 1, (&Changeset{Metadata: map[string]string{"line:first": "x"}}).FirstLine())
}

func TestRepository_DiffusionBrowseURIForPath(t *testing.T) {
	v := &User{PHID: "PHID-USER-a"}
	repo := &Repository{Name: "core", Callsign: "CORE", VCS: VCSGit, DefaultBranch: "main", Tracked: true}

	uri, err := repo.DiffusionBrowseURIForPath(v, "/src/a b.go", 10, "")
	require.NoError(t, err)
	assert.Equal(t, "/diffusion/CORE/browse/main/src/a%20b.go$10", uri)

	uri, err = repo.DiffusionBrowseURIForPath(v, "README", 0, "feature")
	require.NoError(t, err)
	assert.Equal(t, "/diffusion/CORE/browse/feature/README", uri)

	untracked := &Repository{Name: "old", Callsign: "OLD", VCS: VCSGit, DefaultBranch: "main"}
	_, err = untracked.DiffusionBrowseURIForPath(v, "x", 1, "")
	assert.True(t, errors.Is(err, ErrDiffusionSetup))

	noCallsign := &Repository{Name: "anon", VCS: VCSGit, Tracked: true}
	_, err = noCallsign.DiffusionBrowseURIForPath(v, "x", 1, "main")
	assert.ErrorIs(t, err, ErrDiffusionSetup)
}

func TestUser_LoadEditorLink(t *testing.T) {
	u := &User{PHID: "PHID-USER-a", EditorPattern: "txmt://open/?url=file:///src/%r/%f&line=%l&pct=%%"}

	link := u.LoadEditorLink("dir/my file.go", 12, "CORE", []string{"txmt", "mvim"})
	assert.Equal(t, "txmt://open/?url=file:///src/CORE/dir/my%20file.go&line=12&pct=%", link)

	assert.Equal(t, EditorProtocolHelpURI, u.LoadEditorLink("x", 1, "R", []string{"mvim"}))
	assert.Empty(t, (&User{}).LoadEditorLink("x", 1, "R", []string{"txmt"}))

	var nilUser *User
	assert.Empty(t, nilUser.LoadEditorLink("x", 1, "R", nil))
}

func TestUser_ViewerIdentity(t *testing.T) {
	u := &User{PHID: "PHID-USER-a", Admin: true}
	assert.Equal(t, "PHID-USER-a", u.ViewerPHID())
	assert.True(t, u.IsAdministrator())

	u.Disabled = true
	assert.Empty(t, u.ViewerPHID())
	assert.False(t, u.IsAdministrator())
}

func TestInlineComment_Validate(t *testing.T) {
	ok := &InlineComment{ChangesetID: 1, LineNumber: 3, Content: "nit"}
	assert.NoError(t, ok.Validate())

	assert.Error(t, (&InlineComment{LineNumber: 3, Content: "x"}).Validate())
	assert.Error(t, (&InlineComment{ChangesetID: 1, Content: "x"}).Validate())
	assert.Error(t, (&InlineComment{ChangesetID: 1, LineNumber: 1}).Validate())
}

func TestTaskCatalog(t *testing.T) {
	c := DefaultTaskCatalog()
	assert.True(t, c.IsClosedStatus(TaskStatusResolved))
	assert.False(t, c.IsClosedStatus(TaskStatusOpen))
	assert.False(t, c.IsClosedStatus("bogus"))

	v, ok := c.PriorityByKeyword("HIGH")
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, v)
	assert.Equal(t, "Priority 7", c.PriorityName(7))

	_, err := c.WithDefaults(TaskStatusResolved, PriorityNormal)
	assert.Error(t, err)
	_, err = c.WithDefaults(TaskStatusOpen, 7)
	assert.Error(t, err)
}

func TestCustomFieldSpec_Validate(t *testing.T) {
	sel := CustomFieldSpec{Key: "sev", Type: CustomFieldSelect, Options: []string{"s1", "s2"}}
	assert.NoError(t, sel.Validate("s1"))
	assert.Error(t, sel.Validate("s9"))

	num := CustomFieldSpec{Key: "pts", Type: CustomFieldInt, Required: true}
	assert.NoError(t, num.Validate("3"))
	assert.Error(t, num.Validate("three"))
	assert.Error(t, num.Validate(""))

	a := &CustomFieldAttachment{Specs: []CustomFieldSpec{{Key: "k", Default: "d"}}, Values: map[string]string{}}
	assert.Equal(t, "d", a.Value("k"))
	a.Values["k"] = "v"
	assert.Equal(t, "v", a.Value("k"))
}

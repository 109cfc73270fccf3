package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/project-link/internal/model"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lakeside remodel 3 4 2024", Normalize("Lakeside Remodel - 3/4/2024"))
	assert.Equal(t, "cafe renovation", Normalize("  Café   Renovation!! "))
	assert.Equal(t, "", Normalize("--- "))
}

func TestStripDateSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Lakeside Remodel", StripDateSuffix("Lakeside Remodel - 3/4/2024"))
	assert.Equal(t, "Lakeside Remodel", StripDateSuffix("Lakeside Remodel - 2024-03-04"))
	assert.Equal(t, "Lakeside Remodel", StripDateSuffix("Lakeside Remodel – 12/31/24 "))
	assert.Equal(t, "Lakeside 2024 Remodel", StripDateSuffix("Lakeside 2024 Remodel"))
}

func TestScore_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate string
		project   string
		want      int
	}{
		{"exact", "lakeside remodel", "lakeside remodel", 100},
		{"project extends candidate", "lakeside remodel", "lakeside remodel phase 2", 90},
		{"short candidate prefix ignored", "lake", "lakeside remodel", 0},
		{"candidate extends project", "lakeside remodel phase 2", "lakeside remodel", 88},
		{"candidate contained", "oakview addition", "the oakview addition east", 84},
		{"three shared tokens", "smith kitchen bath remodel", "remodel bath kitchen jones", 86},
		{"two shared tokens", "smith kitchen remodel", "jones kitchen remodel", 83},
		{"one shared token", "smith kitchen", "jones kitchen", 80},
		{"short tokens ignored", "a b c", "a b c d", 0},
		{"nothing shared", "lakeside remodel", "oakview addition", 0},
		{"empty", "", "lakeside", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Score(tt.candidate, tt.project))
		})
	}
}

func TestScore_SymmetricOnlyWhenExact(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Score("lakeside remodel", "lakeside remodel"), Score("lakeside remodel", "lakeside remodel"))

	forward := Score("lakeside remodel", "lakeside remodel phase 2")
	backward := Score("lakeside remodel phase 2", "lakeside remodel")
	assert.Equal(t, 90, forward)
	assert.Equal(t, 88, backward)
	assert.NotEqual(t, forward, backward)
}

func TestAccept(t *testing.T) {
	t.Parallel()

	assert.False(t, Accept(79, 0), "below the floor")
	assert.True(t, Accept(80, 0))
	assert.False(t, Accept(83, 83), "tie below 90 is ambiguous")
	assert.False(t, Accept(86, 83), "gap of 3 below 90 is ambiguous")
	assert.True(t, Accept(88, 83), "gap of 5 is enough")
	// High-confidence bypass: a documented policy, not a derived invariant.
	assert.True(t, Accept(95, 92))
	assert.True(t, Accept(90, 90))
}

func TestDealCandidates(t *testing.T) {
	t.Parallel()

	d := model.Deal{
		"id":           "d1",
		"Deal_Name":    "Lakeside Remodel - 3/4/2024",
		"Contact_Name": map[string]any{"name": "Jane Doe", "id": "c1"},
		"Project_Name": map[string]any{"name": "Lakeside Kitchen", "id": "1708545000000017007"},
		"Project_ID":   "1708545000000017007",
	}
	got := DealCandidates(d, []string{"Project_ID"})
	assert.Equal(t, []string{"lakeside remodel 3 4 2024", "lakeside remodel", "jane doe", "lakeside kitchen"}, got)

	exact := ExactCandidates(d, []string{"Project_ID"})
	assert.Equal(t, []string{"lakeside remodel 3 4 2024", "lakeside remodel", "lakeside kitchen"}, exact)
}

func TestBestMatch_AmbiguityGuardRejectsTie(t *testing.T) {
	t.Parallel()

	d := model.Deal{"id": "d1", "Deal_Name": "Smith Kitchen Remodel"}
	projects := []model.Project{
		{ID: "p1", Name: "Jones Kitchen Remodel"},
		{ID: "p2", Name: "Brown Kitchen Remodel"},
	}
	best, second := BestScores(DealCandidates(d, nil), projects, nil)
	require.Equal(t, 83, best.Score)
	require.Equal(t, 83, second)

	assert.Nil(t, BestMatch(d, projects, nil, nil))
}

func TestBestMatch_HighConfidenceBypassesGuard(t *testing.T) {
	t.Parallel()

	d := model.Deal{"id": "d1", "Deal_Name": "Lakeside Remodel"}
	projects := []model.Project{
		{ID: "p1", Name: "Lakeside Remodel Phase 1"},
		{ID: "p2", Name: "Lakeside Remodel Phase 2"},
	}
	got := BestMatch(d, projects, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, 90, got.Score)
}

func TestBestMatch_SkipsUsedProjects(t *testing.T) {
	t.Parallel()

	d := model.Deal{"id": "d1", "Deal_Name": "Lakeside Remodel"}
	projects := []model.Project{
		{ID: "p1", Name: "Lakeside Remodel"},
		{ID: "p2", Name: "Lakeside Remodel Phase 2"},
	}
	got := BestMatch(d, projects, map[string]bool{"p1": true}, nil)
	require.NotNil(t, got)
	assert.Equal(t, "p2", got.ProjectID)
}

func TestBestMatch_BelowFloor(t *testing.T) {
	t.Parallel()

	d := model.Deal{"id": "d1", "Deal_Name": "Lakeside Remodel"}
	assert.Nil(t, BestMatch(d, []model.Project{{ID: "p1", Name: "Oakview Addition"}}, nil, nil))
	assert.Nil(t, BestMatch(d, nil, nil, nil))
}

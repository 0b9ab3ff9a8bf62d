package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findingstore/findingstore/internal/types"
)

func seed(t *testing.T, st *Store, hashes ...string) int64 {
	t.Helper()
	ctx := context.Background()
	run, err := st.GetOrCreateRun(ctx, "r")
	require.NoError(t, err)
	for _, h := range hashes {
		f, err := st.UpsertFile(ctx, &types.File{RunID: run.ID, Filepath: "/" + h + ".c", ContentHash: "ch"})
		require.NoError(t, err)
		_, err = st.InsertReport(ctx, &types.Report{
			RunID: run.ID, FileID: f.ID, CheckerID: "chk." + h, AnalyzerName: "clangsa",
			ReportHash: h, Severity: "HIGH", DetectionStatus: types.DetectionNew,
			DetectedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	return run.ID
}

func TestLikeMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"%", "anything", true},
		{"/src/%", "/src/a.c", true},
		{"/src/%", "/other/a.c", false},
		{"a_.c", "ab.c", true},
		{"a_.c", "abc.c", false},
		{`100\%`, "100%", true},
		{`100\%`, "100x", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, likeMatch(tt.pattern, tt.s), "likeMatch(%q, %q)", tt.pattern, tt.s)
	}
}

func TestQueryReports_SortAndPage(t *testing.T) {
	st := New()
	id := seed(t, st, "c", "a", "b")
	ctx := context.Background()

	sorts := []types.SortMode{{Field: types.SortFilename, Direction: types.SortAsc}}
	page, err := st.QueryReports(ctx, []int64{id}, types.ReportFilter{}, sorts, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ReportHash)
	assert.Equal(t, "b", page[1].ReportHash)

	rest, err := st.QueryReports(ctx, []int64{id}, types.ReportFilter{}, sorts, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].ReportHash)
}

func TestQueryReports_UniqueCollapse(t *testing.T) {
	st := New()
	ctx := context.Background()
	run, err := st.GetOrCreateRun(ctx, "r")
	require.NoError(t, err)
	f, err := st.UpsertFile(ctx, &types.File{RunID: run.ID, Filepath: "/a.c", ContentHash: "ch"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := st.InsertReport(ctx, &types.Report{
			RunID: run.ID, FileID: f.ID, ReportHash: "dup",
			DetectionStatus: types.DetectionNew, DetectedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	all, err := st.QueryReports(ctx, []int64{run.ID}, types.ReportFilter{}, nil, 100, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	unique, err := st.QueryReports(ctx, []int64{run.ID}, types.ReportFilter{IsUnique: true}, nil, 100, 0)
	require.NoError(t, err)
	require.Len(t, unique, 1)
	// The lowest-id row represents the hash.
	assert.Equal(t, all[0].ID, unique[0].ID)

	count, err := st.CountReports(ctx, []int64{run.ID}, types.ReportFilter{IsUnique: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteRun_Cascades(t *testing.T) {
	st := New()
	ctx := context.Background()

	blob := []byte("x")
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])
	require.NoError(t, st.PutContent(ctx, hash, blob, nil))

	run, err := st.GetOrCreateRun(ctx, "r")
	require.NoError(t, err)
	f, err := st.UpsertFile(ctx, &types.File{RunID: run.ID, Filepath: "/a.c", ContentHash: hash})
	require.NoError(t, err)
	require.NoError(t, st.ReleaseContent(ctx, hash, 1))
	r, err := st.InsertReport(ctx, &types.Report{
		RunID: run.ID, FileID: f.ID, ReportHash: "a",
		DetectionStatus: types.DetectionNew, DetectedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = st.AddComment(ctx, &types.Comment{ReportID: r.ID, Author: "a", Message: "m"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteRun(ctx, run.ID))

	left, err := st.CurrentReportsForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = st.GetContent(ctx, hash)
	assert.Error(t, err, "unreferenced content should be collected with the run")
}

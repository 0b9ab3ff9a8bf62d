package facade

import (
	"context"
	"testing"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

func taskFilterNone() types.TaskFilter { return types.TaskFilter{} }

func TestCheckAPIVersion(t *testing.T) {
	f := New(nil, nil, nil, func(context.Context, Identity, Permission, int64) bool { return true }, nil)

	if err := f.CheckAPIVersion(APIVersionMajor, APIVersionMinor); err != nil {
		t.Errorf("matching version rejected: %v", err)
	}
	if err := f.CheckAPIVersion(APIVersionMajor, 0); err != nil {
		t.Errorf("older minor rejected: %v", err)
	}
	if err := f.CheckAPIVersion(APIVersionMajor+1, 0); err == nil {
		t.Error("newer major accepted")
	} else if corekit.KindOf(err) != corekit.KindAPIMismatch {
		t.Errorf("error kind = %s, want API_MISMATCH", corekit.KindOf(err))
	}
	if err := f.CheckAPIVersion(APIVersionMajor, APIVersionMinor+1); err == nil {
		t.Error("newer minor accepted")
	}
}

func TestAuthorize_DistinguishesMissingFromInsufficient(t *testing.T) {
	denyAll := func(context.Context, Identity, Permission, int64) bool { return false }
	f := New(nil, nil, nil, denyAll, nil)

	_, err := f.GetTasks(context.Background(), Identity{}, taskFilterNone(), 10, 0)
	if corekit.KindOf(err) != corekit.KindAuthDenied {
		t.Errorf("anonymous caller: kind = %s, want AUTH_DENIED", corekit.KindOf(err))
	}

	_, err = f.GetTasks(context.Background(), Identity{Name: "bob"}, taskFilterNone(), 10, 0)
	if corekit.KindOf(err) != corekit.KindUnauthorized {
		t.Errorf("named caller without permission: kind = %s, want UNAUTHORIZED", corekit.KindOf(err))
	}
}

func TestAuthorize_PermissionScopesChecked(t *testing.T) {
	var asked []Permission
	recorder := func(ctx context.Context, id Identity, perm Permission, productID int64) bool {
		asked = append(asked, perm)
		return false
	}
	f := New(nil, nil, nil, recorder, nil)

	_, _ = f.GetTasks(context.Background(), Identity{Name: "bob"}, taskFilterNone(), 10, 0)
	_, _ = f.CancelTask(context.Background(), Identity{Name: "bob"}, "tok")

	want := []Permission{PermSuperuser, PermSuperuser}
	if len(asked) != len(want) {
		t.Fatalf("checker consulted %d times, want %d", len(asked), len(want))
	}
	for i, p := range want {
		if asked[i] != p {
			t.Errorf("call %d asked for %s, want %s", i, asked[i], p)
		}
	}
}

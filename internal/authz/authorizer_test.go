package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type stubGrants struct {
	grants map[string]*model.PermissionGrant
	err    error
	calls  int
}

func (s *stubGrants) FindGrant(_ context.Context, rt model.ResourceType, resourceID, principalID string) (*model.PermissionGrant, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	g, ok := s.grants[string(rt)+"/"+resourceID+"/"+principalID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return g, nil
}

func grantStore(grants ...*model.PermissionGrant) *stubGrants {
	s := &stubGrants{grants: map[string]*model.PermissionGrant{}}
	for _, g := range grants {
		s.grants[string(g.ResourceType)+"/"+g.ResourceID+"/"+g.PrincipalID] = g
	}
	return s
}

var alice = &model.UserPrincipal{ID: "alice", SubscriptionTier: model.TierFree}

func TestRoleShortcutsTakePrecedence(t *testing.T) {
	store := grantStore(
		&model.PermissionGrant{
			ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "alice",
			Role:        model.RoleAdmin,
			Permissions: map[string]bool{"delete": false, "read": false},
		},
	)
	a := New(store)

	for _, c := range Capabilities(model.ResourceProject) {
		ok, err := a.Check(context.Background(), alice, model.ResourceProject, "p1", c)
		require.NoError(t, err)
		assert.True(t, ok, "project admin should hold %s", c)
	}
}

func TestCompanyOwnerHoldsEverything(t *testing.T) {
	a := New(grantStore(&model.PermissionGrant{
		ResourceType: model.ResourceCompany, ResourceID: "c1", PrincipalID: "alice", Role: model.RoleOwner,
	}))
	ok, err := a.Check(context.Background(), alice, model.ResourceCompany, "c1", CapDelete)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEditorAndNonOwnerAdminCannotDelete(t *testing.T) {
	tests := []struct {
		name string
		rt   model.ResourceType
		role string
	}{
		{"project editor", model.ResourceProject, model.RoleEditor},
		{"company admin", model.ResourceCompany, model.RoleAdmin},
		{"company editor", model.ResourceCompany, model.RoleEditor},
		{"transfer admin", model.ResourceTransfer, model.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(grantStore(&model.PermissionGrant{
				ResourceType: tt.rt, ResourceID: "r1", PrincipalID: "alice", Role: tt.role,
				Permissions: map[string]bool{"delete": true},
			}))
			ctx := context.Background()

			ok, err := a.Check(ctx, alice, tt.rt, "r1", CapDelete)
			require.NoError(t, err)
			assert.False(t, ok, "explicit delete must not override the role shortcut")

			ok, err = a.Check(ctx, alice, tt.rt, "r1", CapUpdate)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestExplicitPermissionMap(t *testing.T) {
	a := New(grantStore(&model.PermissionGrant{
		ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "alice", Role: model.RoleViewer,
		Permissions: map[string]bool{"read": true, "create_transfer": false, "launch_rockets": true},
	}))
	ctx := context.Background()

	cases := map[Capability]bool{
		CapRead:           true,
		CapCreateTransfer: false,
		CapDelete:         false,
		"launch_rockets":  false,
	}
	for c, want := range cases {
		got, err := a.Check(ctx, alice, model.ResourceProject, "p1", c)
		require.NoError(t, err)
		assert.Equal(t, want, got, string(c))
	}
}

func TestNoMembershipDenies(t *testing.T) {
	a := New(grantStore())
	ok, err := a.Check(context.Background(), alice, model.ResourceProject, "p1", CapRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnonymousDeniesWithoutStoreCall(t *testing.T) {
	store := grantStore()
	a := New(store)
	ok, err := a.Check(context.Background(), nil, model.ResourceProject, "p1", CapRead)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.calls)
}

func TestRequireReturnsAuthorizationError(t *testing.T) {
	a := New(grantStore(&model.PermissionGrant{
		ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "alice", Role: model.RoleViewer,
	}))
	err := a.Require(context.Background(), alice, model.ResourceProject, "p1", CapDelete)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAuthorization, appErr.Kind)
	assert.Equal(t, 403, appErr.Status)
	assert.Equal(t, DenyDetails{ResourceType: "project", ResourceID: "p1", Capability: "delete"}, appErr.Details)
}

func TestStoreFailureIsTranslated(t *testing.T) {
	store := grantStore()
	store.err = &pgconn.PgError{Code: "22P02"}
	err := New(store).Require(context.Background(), alice, model.ResourceProject, "not-a-uuid", CapRead)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)

	store.err = errors.New("connection reset")
	_, err = New(store).Check(context.Background(), alice, model.ResourceProject, "p1", CapRead)
	appErr, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindServer, appErr.Kind)
}

func TestEveryCheckReadsTheStore(t *testing.T) {
	store := grantStore(&model.PermissionGrant{
		ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "alice", Role: model.RoleAdmin,
	})
	a := New(store)
	for i := 0; i < 3; i++ {
		_, _ = a.Check(context.Background(), alice, model.ResourceProject, "p1", CapRead)
	}
	assert.Equal(t, 3, store.calls)
}

func TestUnknownResourceType(t *testing.T) {
	_, err := New(grantStore()).Check(context.Background(), alice, "galaxy", "g1", CapRead)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindBadRequest, appErr.Kind)
}

func TestEnforceReportsRoleAndDeny(t *testing.T) {
	a := New(grantStore(&model.PermissionGrant{
		ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "alice", Role: model.RoleEditor,
	}))

	d, err := a.Enforce(context.Background(), alice, model.ResourceProject, "p1", CapManageMembers)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEditor, d.Role)

	_, err = a.Enforce(context.Background(), alice, model.ResourceProject, "p1", CapDelete)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAuthorization, appErr.Kind)
	assert.Equal(t, DenyDetails{ResourceType: "project", ResourceID: "p1", Capability: "delete"}, appErr.Details)
}

func TestRoleRank(t *testing.T) {
	assert.Greater(t, RoleRank(model.ResourceProject, model.RoleAdmin), RoleRank(model.ResourceProject, model.RoleEditor))
	assert.Greater(t, RoleRank(model.ResourceProject, model.RoleEditor), RoleRank(model.ResourceProject, model.RoleViewer))
	assert.Greater(t, RoleRank(model.ResourceCompany, model.RoleOwner), RoleRank(model.ResourceCompany, model.RoleAdmin))
	assert.Zero(t, RoleRank(model.ResourceProject, model.RoleOwner))
	assert.Zero(t, RoleRank(model.ResourceProject, "superuser"))
}

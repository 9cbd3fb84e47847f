package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string {
	return &s
}

func TestParsePermissionList(t *testing.T) {
	tests := []struct {
		name string
		raw  *string
		want []Permission
	}{
		{"nil", nil, []Permission{}},
		{"empty string", strPtr(""), []Permission{}},
		{"whitespace", strPtr("  \n"), []Permission{}},
		{"json null", strPtr("null"), []Permission{}},
		{"empty array", strPtr("[]"), []Permission{}},
		{"valid", strPtr(`["tickets.create","reports.view"]`), []Permission{PermReportsView, PermTicketsCreate}},
		{"duplicates", strPtr(`["tickets.create","tickets.create"]`), []Permission{PermTicketsCreate}},
		{"unknown dropped", strPtr(`["tickets.create","tickets.burn"]`), []Permission{PermTicketsCreate}},
		{"all unknown", strPtr(`["root","*"]`), []Permission{}},
		{"not json", strPtr("tickets.create,reports.view"), []Permission{}},
		{"truncated", strPtr(`["tickets.create"`), []Permission{}},
		{"object", strPtr(`{"tickets.create":true}`), []Permission{}},
		{"numbers", strPtr(`[1,2,3]`), []Permission{}},
		{"bare string", strPtr(`"tickets.create"`), []Permission{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePermissionList(tt.raw)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got.Sorted())
		})
	}
}

func TestDecodePermissionList_Report(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		_, report := DecodePermissionList(strPtr(`["tickets.create"]`))
		assert.True(t, report.Clean())

		_, report = DecodePermissionList(nil)
		assert.True(t, report.Clean())
	})

	t.Run("malformed", func(t *testing.T) {
		set, report := DecodePermissionList(strPtr(`{broken`))
		assert.Equal(t, 0, set.Len())
		assert.Error(t, report.Malformed)
		assert.False(t, report.Clean())
	})

	t.Run("dropped", func(t *testing.T) {
		set, report := DecodePermissionList(strPtr(`["tickets.create","tickets.burn","superuser"]`))
		assert.Equal(t, []Permission{PermTicketsCreate}, set.Sorted())
		assert.NoError(t, report.Malformed)
		assert.Equal(t, []string{"tickets.burn", "superuser"}, report.Dropped)
	})
}

func TestEncodePermissionList(t *testing.T) {
	assert.Equal(t, "[]", EncodePermissionList(nil))
	assert.Equal(t, "[]", EncodePermissionList(PermissionSet{}))
	assert.Equal(t, `["members.manage","tickets.create"]`,
		EncodePermissionList(NewPermissionSet(PermTicketsCreate, PermMembersManage)))

	set := NewPermissionSet(PermSprintsManage, PermLabelsManage)
	encoded := EncodePermissionList(set)
	assert.Equal(t, set, ParsePermissionList(&encoded))
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskflow/internal/domain"
	"taskflow/internal/repo"
)

func TestEffective(t *testing.T) {
	cases := []struct {
		in   repo.MembershipRoles
		want domain.Role
	}{
		{repo.MembershipRoles{}, ""},
		{repo.MembershipRoles{Project: domain.RoleReader}, domain.RoleReader},
		{repo.MembershipRoles{Project: domain.RoleReader, Org: domain.RoleOwner}, domain.RoleOwner},
		{repo.MembershipRoles{Project: domain.RoleReader, Team: domain.TeamMember}, domain.RoleEditor},
		{repo.MembershipRoles{Team: domain.TeamOwner}, domain.RoleAdmin},
		{repo.MembershipRoles{Project: domain.RoleOwner, Team: domain.TeamAdmin}, domain.RoleOwner},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Effective(tc.in), "%+v", tc.in)
	}
}

package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveRequestStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ApprovalStatus
		want     ApprovalStatus
	}{
		{"no chains", nil, ApprovalStatusPending},
		{"single pending", []ApprovalStatus{ApprovalStatusPending}, ApprovalStatusPending},
		{"single approved", []ApprovalStatus{ApprovalStatusApproved}, ApprovalStatusApproved},
		{"all approved", []ApprovalStatus{ApprovalStatusApproved, ApprovalStatusApproved}, ApprovalStatusApproved},
		{"rejection dominates approvals", []ApprovalStatus{ApprovalStatusApproved, ApprovalStatusRejected}, ApprovalStatusRejected},
		{"rejection dominates pending", []ApprovalStatus{ApprovalStatusPending, ApprovalStatusRejected}, ApprovalStatusRejected},
		{"mixed pending and approved", []ApprovalStatus{ApprovalStatusApproved, ApprovalStatusPending}, ApprovalStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approvals := make([]Approval, len(tt.statuses))
			for i, status := range tt.statuses {
				approvals[i] = Approval{Status: status}
			}
			require.Equal(t, tt.want, DeriveRequestStatus(approvals))
		})
	}
}

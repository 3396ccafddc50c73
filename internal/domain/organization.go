/**
 * @description
 * Read-only views of organization data owned by other parts of the platform.
 * The payroll core only looks these up; it never writes them.
 */
package domain

import "github.com/google/uuid"

// MemberRole is a user's role inside an organization.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// CanManagePayroll reports whether the role may create or change payroll streams.
func (r MemberRole) CanManagePayroll() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

// OrganizationTreasury is an organization's settlement account on the provider.
type OrganizationTreasury struct {
	OrganizationID  uuid.UUID `json:"organization_id"`
	TreasuryAddress string    `json:"treasury_address"`
}

// EmployeeProfile is the payee information kept for an organization's employee.
type EmployeeProfile struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Email          string     `json:"email"`
	WalletAddress  *string    `json:"wallet_address,omitempty"`
}

// TreasuryTransfer is a transfer as reported by the provider.
type TreasuryTransfer struct {
	ID          string  `json:"id"`
	Amount      string  `json:"amount"`
	Status      string  `json:"status"`
	Destination string  `json:"destination,omitempty"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
}

// TreasuryView is the treasury summary returned to dashboard callers.
type TreasuryView struct {
	TreasuryAddress string             `json:"treasury_address"`
	Balance         string             `json:"balance"`
	Currency        string             `json:"currency"`
	Transfers       []TreasuryTransfer `json:"transfers"`
}

package rbac

import "github.com/marketplace-escrow/backend/internal/models"

// Permission constants
const (
	PermPlaceTransaction = "place_transaction"
	PermFulfil           = "fulfil"
	PermOpenDispute      = "open_dispute"
	PermManageDisputes   = "manage_disputes"
	PermTopUpWallet      = "top_up_wallet"
	PermViewAudit        = "view_audit"
)

// RolePermissions defines what each role can do. Party checks on the
// individual transaction still apply on top of these.
var RolePermissions = map[models.Role][]string{
	models.RoleCustomer: {
		PermPlaceTransaction, PermOpenDispute,
	},
	models.RoleSeller: {
		PermFulfil, PermOpenDispute,
	},
	models.RoleAdmin: {
		PermFulfil, PermManageDisputes, PermTopUpWallet, PermViewAudit,
		// Admins cannot place transactions or open disputes in their own name.
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role models.Role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports permissions that move money outside escrow.
func IsFinancialOperation(permission string) bool {
	return permission == PermTopUpWallet
}

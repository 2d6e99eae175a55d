package auth

// Permission keys gate the administrative and processor-facing operations.
// Regular purchase and read paths require only an authenticated principal.
const (
	PermPaymentConfirm = "payment.confirm"
	PermPaymentFail    = "payment.fail"
	PermGrantOverride  = "entitlement.grant.override"
	PermGrantRevoke    = "entitlement.grant.revoke"
)

// BuiltinPermissions is the catalog of known permission keys.
var BuiltinPermissions = []string{
	PermPaymentConfirm,
	PermPaymentFail,
	PermGrantOverride,
	PermGrantRevoke,
}

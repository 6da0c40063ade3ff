package domain

const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"

	// Track request statuses
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"

	// Withdrawal statuses
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusSucceeded  = "succeeded"
	WithdrawalStatusCanceled   = "canceled"
	WithdrawalStatusFailed     = "failed"

	// Gateway payment statuses the reconciler acts on
	PaymentStatusSucceeded = "succeeded"

	EntityTrackRequest = "track_request"
	EntityWithdrawal   = "withdrawal"

	// Currency is the single settlement currency; amounts are whole units of it.
	Currency = "RUB"
)

// IsKnownWithdrawalStatus reports whether status belongs to the withdrawal lifecycle.
func IsKnownWithdrawalStatus(status string) bool {
	switch status {
	case WithdrawalStatusPending, WithdrawalStatusProcessing, WithdrawalStatusSucceeded,
		WithdrawalStatusCanceled, WithdrawalStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminalWithdrawalStatus reports whether no further transition is allowed.
func IsTerminalWithdrawalStatus(status string) bool {
	switch status {
	case WithdrawalStatusSucceeded, WithdrawalStatusCanceled, WithdrawalStatusFailed:
		return true
	default:
		return false
	}
}

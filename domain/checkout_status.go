package domain

type CheckoutStatus string

const (
	CheckoutStatusValidating     CheckoutStatus = "VALIDATING"
	CheckoutStatusReservingStock CheckoutStatus = "RESERVING_STOCK"
	CheckoutStatusCharging       CheckoutStatus = "CHARGING"
	CheckoutStatusPersisting     CheckoutStatus = "PERSISTING"
	CheckoutStatusCompleted      CheckoutStatus = "COMPLETED"
	CheckoutStatusCompensating   CheckoutStatus = "COMPENSATING"
	CheckoutStatusFailed         CheckoutStatus = "FAILED"
)

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusFailed
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}

// validTransitions encodes the saga state machine. The compensating path is
// reachable from every state after stock reservation begins; success is only
// reachable through the full forward chain.
var validTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusValidating:     {CheckoutStatusReservingStock, CheckoutStatusFailed},
	CheckoutStatusReservingStock: {CheckoutStatusCharging, CheckoutStatusCompensating},
	CheckoutStatusCharging:       {CheckoutStatusPersisting, CheckoutStatusCompensating},
	CheckoutStatusPersisting:     {CheckoutStatusCompleted, CheckoutStatusCompensating},
	CheckoutStatusCompensating:   {CheckoutStatusFailed},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

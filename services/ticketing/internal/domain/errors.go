package domain

import "errors"

var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrOrderNotFound         = errors.New("order not found")
	ErrEventNotFound         = errors.New("event not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrEventNotOnSale        = errors.New("event is not on sale")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationExpired    = errors.New("reservation expired")
	ErrTicketsAlreadySold    = errors.New("tickets already sold")
	ErrInvalidEvent          = errors.New("invalid event")
	ErrNotProvisioned        = errors.New("inventory not provisioned")

	ErrSoldOutOfRange = errors.New("sold count out of range")
)

var business = []error{
	ErrInsufficientInventory,
	ErrInvalidQuantity,
	ErrOrderNotFound,
	ErrEventNotFound,
	ErrInvalidTransition,
	ErrEventNotOnSale,
	ErrReservationNotFound,
	ErrReservationExpired,
	ErrTicketsAlreadySold,
	ErrInvalidEvent,
	ErrSoldOutOfRange,
}

// IsBusiness reports expected outcomes that retrying cannot change.
func IsBusiness(err error) bool {
	for _, target := range business {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

package escrow

import "errors"

// Soft outcomes. They come back with a nil error and leave state untouched
// unless noted otherwise.
const (
	StatusAccountRegistered = "Account registered successfully"
	StatusAccountExists     = "Account already registered"

	StatusChatCreated        = "created"
	StatusSelfChat           = "You can't chat with yourself"
	StatusOfferNotFound      = "Offer not found"
	StatusOfferNotForBuy     = "Offer is not for buy"
	StatusOfferNotForSell    = "Offer is not for sell"
	StatusOfferInactive      = "Offer is not active"
	StatusNotRegistered      = "You must be a registered user to chat with someone"
	StatusInsufficientFunds  = "You don't have enough balance to chat with someone"
	StatusOffererUnderfunded = "Offerer does not have sufficient balance to hold the trade."
	StatusChatExists         = "Chat already exists"
	StatusAmountOutOfRange   = "Amount is outside the offer limits"
	StatusTradeCostTooLow    = "Trade cost is below the minimum fee"

	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusChatInactive = "chat is not active"
	StatusChatCanceled = "chat canceled"
	StatusRated        = "rated"
	StatusAlreadyRated = "already rated"
	StatusNotAllowed   = "not allowed"
)

var (
	ErrAccountNotFound    = errors.New("account not registered")
	ErrChatNotFound       = errors.New("chat not found")
	ErrChatInactive       = errors.New("chat is not active")
	ErrAlreadyReleased    = errors.New("amount already released")
	ErrChatNotCancellable = errors.New("chat cannot be canceled since it is marked as paid, received or released")
	ErrReleasePending     = errors.New("token release is pending")
	ErrInvalidRole        = errors.New("invalid rating role")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUnauthorized       = errors.New("caller is not allowed to perform this operation")
	ErrBridgeUnavailable  = errors.New("transfer bridge unavailable")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrUnknownTransfer    = errors.New("unknown transfer kind")
)

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface is implemented by the HTTP handlers.
type ServerInterface interface {
	// (POST /accounts)
	RegisterAccount(w http.ResponseWriter, r *http.Request)
	// (GET /accounts/{accountId})
	GetAccount(w http.ResponseWriter, r *http.Request, accountId string)
	// (GET /accounts/{accountId}/public)
	GetPublicAccount(w http.ResponseWriter, r *http.Request, accountId string)
	// (POST /accounts/{accountId}/deposits)
	Deposit(w http.ResponseWriter, r *http.Request, accountId string)
	// (POST /accounts/{accountId}/withdrawals)
	Withdraw(w http.ResponseWriter, r *http.Request, accountId string)
	// (POST /accounts/{accountId}/token-withdrawals)
	RequestTokenWithdrawal(w http.ResponseWriter, r *http.Request, accountId string)
	// (GET /accounts/{accountId}/token-withdrawals/{withdrawalId})
	GetTokenWithdrawal(w http.ResponseWriter, r *http.Request, accountId string, withdrawalId string)
	// (GET /accounts/{accountId}/chats)
	ListAccountChats(w http.ResponseWriter, r *http.Request, accountId string)
	// (GET /accounts/{accountId}/transfers)
	ListAccountTransfers(w http.ResponseWriter, r *http.Request, accountId string)
	// (GET /accounts/{accountId}/trades)
	ListAccountTrades(w http.ResponseWriter, r *http.Request, accountId string)

	// (POST /offers)
	CreateOffer(w http.ResponseWriter, r *http.Request)
	// (GET /offers)
	ListOffers(w http.ResponseWriter, r *http.Request, params ListOffersParams)
	// (DELETE /offers)
	ClearOffers(w http.ResponseWriter, r *http.Request)
	// (GET /offers/{offerId})
	GetOffer(w http.ResponseWriter, r *http.Request, offerId string)
	// (PUT /offers/{offerId}/status)
	SetOfferStatus(w http.ResponseWriter, r *http.Request, offerId string)

	// (POST /chats)
	OpenChat(w http.ResponseWriter, r *http.Request)
	// (DELETE /chats)
	ClearChats(w http.ResponseWriter, r *http.Request)
	// (GET /chats/{chatId})
	GetChat(w http.ResponseWriter, r *http.Request, chatId string)
	// (POST /chats/{chatId}/paid)
	MarkPaid(w http.ResponseWriter, r *http.Request, chatId string)
	// (POST /chats/{chatId}/received)
	MarkReceived(w http.ResponseWriter, r *http.Request, chatId string)
	// (POST /chats/{chatId}/release)
	ReleaseChat(w http.ResponseWriter, r *http.Request, chatId string)
	// (POST /chats/{chatId}/cancel)
	CancelChat(w http.ResponseWriter, r *http.Request, chatId string)
	// (POST /chats/{chatId}/rate)
	RateChat(w http.ResponseWriter, r *http.Request, chatId string)

	// (GET /revenue)
	GetRevenue(w http.ResponseWriter, r *http.Request)
	// (GET /admin/fee-rate)
	GetFeeRate(w http.ResponseWriter, r *http.Request)
	// (PUT /admin/fee-rate)
	SetFeeRate(w http.ResponseWriter, r *http.Request)
	// (POST /admin/reconcile)
	Reconcile(w http.ResponseWriter, r *http.Request)

	// (GET /tokens)
	ListTokens(w http.ResponseWriter, r *http.Request)
	// (GET /tokens/{tokenId})
	GetToken(w http.ResponseWriter, r *http.Request, tokenId string)
	// (PUT /tokens/{tokenId})
	PutToken(w http.ResponseWriter, r *http.Request, tokenId string)
	// (DELETE /tokens/{tokenId})
	DeleteToken(w http.ResponseWriter, r *http.Request, tokenId string)
	// (GET /payment-methods)
	ListPaymentMethods(w http.ResponseWriter, r *http.Request)
	// (PUT /payment-methods/{name})
	PutPaymentMethod(w http.ResponseWriter, r *http.Request, name string)
	// (DELETE /payment-methods/{name})
	DeletePaymentMethod(w http.ResponseWriter, r *http.Request, name string)

	// (POST /internal/token-deposits)
	TokenDeposit(w http.ResponseWriter, r *http.Request)
	// (POST /internal/transfers/{requestId}/result)
	TransferResult(w http.ResponseWriter, r *http.Request, requestId string)
}

type MiddlewareFunc func(http.Handler) http.Handler

// InvalidParamFormatError is passed to the error handler when a parameter
// cannot be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper binds request parameters and calls the handler.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	handler := http.Handler(fn)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// pathParam binds the required simple-style path parameter name into dst.
func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dst *string) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dst,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) plain(call func(ServerInterface, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { call(siw.Handler, w, r) })
	}
}

func (siw *ServerInterfaceWrapper) withPath(name string, call func(ServerInterface, http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var value string
		if !siw.pathParam(w, r, name, &value) {
			return
		}
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { call(siw.Handler, w, r, value) })
	}
}

// GetTokenWithdrawal operation middleware
func (siw *ServerInterfaceWrapper) GetTokenWithdrawal(w http.ResponseWriter, r *http.Request) {
	var accountId, withdrawalId string
	if !siw.pathParam(w, r, "accountId", &accountId) || !siw.pathParam(w, r, "withdrawalId", &withdrawalId) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetTokenWithdrawal(w, r, accountId, withdrawalId)
	})
}

// ListOffers operation middleware
func (siw *ServerInterfaceWrapper) ListOffers(w http.ResponseWriter, r *http.Request) {
	var params ListOffersParams
	query := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  any
	}{
		{"type", &params.Type},
		{"asset", &params.Asset},
		{"token_id", &params.TokenID},
		{"offerer", &params.Offerer},
		{"active", &params.Active},
	} {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dst); err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: p.name, Err: err})
			return
		}
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListOffers(w, r, params)
	})
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler creates http.Handler with routing matching the API.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerFromMux mounts the API on an existing router.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := &ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}
	base := options.BaseURL

	r.Group(func(r chi.Router) {
		r.Post(base+"/accounts", wrapper.plain(ServerInterface.RegisterAccount))
		r.Get(base+"/accounts/{accountId}", wrapper.withPath("accountId", ServerInterface.GetAccount))
		r.Get(base+"/accounts/{accountId}/public", wrapper.withPath("accountId", ServerInterface.GetPublicAccount))
		r.Post(base+"/accounts/{accountId}/deposits", wrapper.withPath("accountId", ServerInterface.Deposit))
		r.Post(base+"/accounts/{accountId}/withdrawals", wrapper.withPath("accountId", ServerInterface.Withdraw))
		r.Post(base+"/accounts/{accountId}/token-withdrawals", wrapper.withPath("accountId", ServerInterface.RequestTokenWithdrawal))
		r.Get(base+"/accounts/{accountId}/token-withdrawals/{withdrawalId}", wrapper.GetTokenWithdrawal)
		r.Get(base+"/accounts/{accountId}/chats", wrapper.withPath("accountId", ServerInterface.ListAccountChats))
		r.Get(base+"/accounts/{accountId}/transfers", wrapper.withPath("accountId", ServerInterface.ListAccountTransfers))
		r.Get(base+"/accounts/{accountId}/trades", wrapper.withPath("accountId", ServerInterface.ListAccountTrades))
	})
	r.Group(func(r chi.Router) {
		r.Post(base+"/offers", wrapper.plain(ServerInterface.CreateOffer))
		r.Get(base+"/offers", wrapper.ListOffers)
		r.Delete(base+"/offers", wrapper.plain(ServerInterface.ClearOffers))
		r.Get(base+"/offers/{offerId}", wrapper.withPath("offerId", ServerInterface.GetOffer))
		r.Put(base+"/offers/{offerId}/status", wrapper.withPath("offerId", ServerInterface.SetOfferStatus))
	})
	r.Group(func(r chi.Router) {
		r.Post(base+"/chats", wrapper.plain(ServerInterface.OpenChat))
		r.Delete(base+"/chats", wrapper.plain(ServerInterface.ClearChats))
		r.Get(base+"/chats/{chatId}", wrapper.withPath("chatId", ServerInterface.GetChat))
		r.Post(base+"/chats/{chatId}/paid", wrapper.withPath("chatId", ServerInterface.MarkPaid))
		r.Post(base+"/chats/{chatId}/received", wrapper.withPath("chatId", ServerInterface.MarkReceived))
		r.Post(base+"/chats/{chatId}/release", wrapper.withPath("chatId", ServerInterface.ReleaseChat))
		r.Post(base+"/chats/{chatId}/cancel", wrapper.withPath("chatId", ServerInterface.CancelChat))
		r.Post(base+"/chats/{chatId}/rate", wrapper.withPath("chatId", ServerInterface.RateChat))
	})
	r.Group(func(r chi.Router) {
		r.Get(base+"/revenue", wrapper.plain(ServerInterface.GetRevenue))
		r.Get(base+"/admin/fee-rate", wrapper.plain(ServerInterface.GetFeeRate))
		r.Put(base+"/admin/fee-rate", wrapper.plain(ServerInterface.SetFeeRate))
		r.Post(base+"/admin/reconcile", wrapper.plain(ServerInterface.Reconcile))
		r.Get(base+"/tokens", wrapper.plain(ServerInterface.ListTokens))
		r.Get(base+"/tokens/{tokenId}", wrapper.withPath("tokenId", ServerInterface.GetToken))
		r.Put(base+"/tokens/{tokenId}", wrapper.withPath("tokenId", ServerInterface.PutToken))
		r.Delete(base+"/tokens/{tokenId}", wrapper.withPath("tokenId", ServerInterface.DeleteToken))
		r.Get(base+"/payment-methods", wrapper.plain(ServerInterface.ListPaymentMethods))
		r.Put(base+"/payment-methods/{name}", wrapper.withPath("name", ServerInterface.PutPaymentMethod))
		r.Delete(base+"/payment-methods/{name}", wrapper.withPath("name", ServerInterface.DeletePaymentMethod))
	})
	r.Group(func(r chi.Router) {
		r.Post(base+"/internal/token-deposits", wrapper.plain(ServerInterface.TokenDeposit))
		r.Post(base+"/internal/transfers/{requestId}/result", wrapper.withPath("requestId", ServerInterface.TransferResult))
	})

	return r
}

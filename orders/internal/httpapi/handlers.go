package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"order-outbox/orders/internal/app"
	"order-outbox/shared/httpx"
	"order-outbox/shared/logx"
)

type createOrderRequest struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

type addItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Currency string `json:"currency"`
}

type moneyResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type addItemResponse struct {
	OrderID string        `json:"orderId"`
	Total   moneyResponse `json:"total"`
}

// Orders exposes the order use cases over HTTP.
type Orders struct {
	Create  *app.CreateOrder
	AddItem *app.AddItemToOrder
	Get     *app.GetOrder
	Logger  logx.Logger
}

func (h Orders) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	out, err := h.Create.Execute(r.Context(), app.CreateOrderInput{OrderID: req.OrderID, CustomerID: req.CustomerID})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+out.OrderID)
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{OrderID: out.OrderID})
}

func (h Orders) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	out, err := h.AddItem.Execute(r.Context(), app.AddItemInput{
		OrderID:  r.PathValue("id"),
		SKU:      req.SKU,
		Quantity: req.Quantity,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, addItemResponse{
		OrderID: out.OrderID,
		Total:   moneyResponse{Amount: out.Total.StringFixed(), Currency: string(out.Total.Currency())},
	})
}

func (h Orders) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.Get.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h Orders) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := app.AsError(err)
	if !ok {
		appErr = app.InfraError("unexpected error", err)
	}
	switch appErr.Kind {
	case app.KindValidation:
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", appErr.Message, fieldDetails(appErr.Fields))
	case app.KindNotFound:
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", appErr.Error(), map[string]string{"resource": appErr.Resource, "id": appErr.ID})
	case app.KindConflict:
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", appErr.Message, nil)
	default:
		if r.Context().Err() == context.DeadlineExceeded {
			httpx.WriteError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timeout", nil)
			return
		}
		h.Logger.Error(r.Context(), "request_failed", "dependency unavailable",
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.String("error_code", "UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "a dependency is unavailable, retry later", nil)
	}
}

func fieldDetails(fields map[string]string) any {
	if len(fields) == 0 {
		return nil
	}
	return map[string]any{"fields": fields}
}

package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-coupon/internal/common"
	"github.com/noah-isme/backend-coupon/internal/prices"
)

// Calculator is the service contract used by the HTTP handler.
type Calculator interface {
	Calculate(ctx context.Context, ids []string, budget decimal.Decimal) (Solution, error)
}

// Handler exposes the coupon calculation endpoint.
type Handler struct {
	Svc      Calculator
	Validate *validator.Validate
}

// NewHandler constructs a Handler with a default validator.
func NewHandler(svc Calculator) *Handler {
	return &Handler{Svc: svc, Validate: validator.New(validator.WithRequiredStructEnabled())}
}

type calculateRequest struct {
	ItemIDs []string         `json:"item_ids" validate:"required,min=1,dive,required"`
	Amount  *decimal.Decimal `json:"amount" validate:"required"`
}

type calculateResponse struct {
	ItemIDs []string    `json:"item_ids"`
	Total   json.Number `json:"total"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Routes mounts the calculation endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.With(RequireJSON).Post("/", h.Calculate)
}

// Calculate handles POST requests carrying item identifiers and a coupon amount.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "coupon service not configured", nil)
		return
	}
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge, "request body too large", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.WriteError(w, err)
		return
	}

	sol, err := h.Svc.Calculate(r.Context(), req.ItemIDs, *req.Amount)
	if err != nil {
		h.writeCalculateError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, calculateResponse{ItemIDs: sol.ItemIDs, Total: json.Number(sol.Total.String())})
}

func (h *Handler) validate(req calculateRequest) error {
	v := h.Validate
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		details := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError{Field: jsonField(fe.Namespace()), Rule: fe.Tag()})
		}
		return common.NewAppError(common.CodeValidation, "request validation failed", http.StatusBadRequest, err).WithDetails(details)
	}
	if req.Amount.IsNegative() {
		return common.NewAppError(common.CodeValidation, "amount must not be negative", http.StatusBadRequest, ErrNegativeAmount).
			WithDetails([]fieldError{{Field: "amount", Rule: "gte"}})
	}
	return nil
}

func (h *Handler) writeCalculateError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	var (
		resErr    *prices.ResolutionError
		budgetErr *InsufficientBudgetError
	)
	switch {
	case errors.As(err, &resErr):
		evt := logger.Warn().Strs("missing", resErr.Missing)
		for _, id := range resErr.Missing {
			if cause := resErr.Cause(id); cause != nil && !errors.Is(cause, prices.ErrNoPrice) {
				evt = evt.Str("cause_"+id, cause.Error())
			}
		}
		evt.Msg("coupon_price_resolution_failed")
		common.WriteError(w, common.NewAppError(common.CodeNoItemPrice, noPriceMessage(resErr.Missing), http.StatusBadRequest, err).
			WithDetails(map[string]any{"item_ids": resErr.Missing}))
	case errors.As(err, &budgetErr):
		common.WriteError(w, common.NewAppError(common.CodeInsufficientFunds, fmt.Sprintf("amount %s is insufficient for any item", budgetErr.Budget.String()), http.StatusNotFound, err).
			WithDetails(map[string]any{"amount": json.Number(budgetErr.Budget.String())}))
	case errors.Is(err, ErrPrecondition):
		common.WriteError(w, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadRequest, err))
	default:
		logger.Error().Err(err).Msg("coupon_calculation_failed")
		common.WriteError(w, err)
	}
}

func noPriceMessage(missing []string) string {
	if len(missing) == 1 {
		return missing[0] + " has no price"
	}
	return strings.Join(missing, ", ") + " have no price"
}

// jsonField maps a validator namespace such as calculateRequest.ItemIDs[0] to
// the JSON field name.
func jsonField(namespace string) string {
	field := namespace
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch {
	case strings.HasPrefix(field, "ItemIDs"):
		return "item_ids" + strings.TrimPrefix(field, "ItemIDs")
	case field == "Amount":
		return "amount"
	}
	return field
}

// RequireJSON rejects requests whose body is not declared as JSON.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			common.UnsupportedMediaType(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package register

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	resp "stock_notifier/internal/lib/api/response"
	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/middleware/waitlist"
	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	SKU         string `json:"sku" validate:"required_without=ProductName"`
	ProductName string `json:"product_name" validate:"required_without=SKU"`
	Intent      string `json:"intent" validate:"required,oneof=arrival low_stock"`
	Channel     string `json:"channel" validate:"oneof=email line"`
	Address     string `json:"address" validate:"required_if=Channel email"`
	UserID      string `json:"user_id" validate:"required_if=Channel line"`
}

type Response struct {
	resp.Response
	Waiter models.Waiter `json:"waiter"`
}

type Registrar interface {
	Register(ctx context.Context, req waitlist.Request) (models.Waiter, error)
}

func New(
	log *slog.Logger,
	registrar Registrar,
	validate *validator.Validate,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.waitlist.register.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // * 1 МБ лимит запроса
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		req.normalize()

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			if !errors.As(err, &validateErr) {
				log.Error("Failed to validate request", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			log.Info("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		waiter, err := registrar.Register(ctx, waitlist.Request{
			SKU:         req.SKU,
			ProductName: req.ProductName,
			Intent:      req.Intent,
			Channel:     req.Channel,
			Address:     req.Address,
			UserID:      req.UserID,
		})
		switch {
		case err == nil:
		case waitlist.IsValidation(err), errors.Is(err, storage.ErrIdentityNotLinked):
			log.Info("Registration rejected", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		default:
			log.Error("Failed to register waiter", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Waiter registered",
			slog.Int64("waiter_id", waiter.ID),
			slog.String("intent", req.Intent),
			slog.String("channel", waiter.Channel),
		)

		ResponseOK(w, r, waiter)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, waiter models.Waiter) {
	render.JSON(w, r, Response{
		Response: resp.OK(),
		Waiter:   waiter,
	})
}

func (r *Request) normalize() {
	r.SKU = strings.TrimSpace(r.SKU)
	r.ProductName = strings.TrimSpace(r.ProductName)
	r.Intent = strings.ToLower(strings.TrimSpace(r.Intent))
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	if r.Channel == "" {
		r.Channel = string(models.Email)
	}
	r.Address = strings.TrimSpace(r.Address)
	r.UserID = strings.TrimSpace(r.UserID)
}

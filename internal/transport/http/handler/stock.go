package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	"github.com/sakashimaa/go-pet-project/stock/internal/service"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"github.com/sakashimaa/go-pet-project/stock/pkg/utils"
	"go.uber.org/zap"
)

type StockHandler struct {
	service  service.StockService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewStockHandler(service service.StockService, timeout time.Duration, logger *zap.Logger) *StockHandler {
	if timeout <= 0 {
		timeout = time.Second
	}

	return &StockHandler{
		service:  service,
		validate: utils.NewValidator(),
		timeout:  timeout,
		logger:   logger,
	}
}

type RestockInput struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *StockHandler) GetStock(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	idStr := c.Params("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "invalid product id", zap.String("id", idStr))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Id is invalid",
		})
	}

	res, err := h.service.GetStock(ctx, id)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(res)
}

func (h *StockHandler) Restock(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	idStr := c.Params("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "invalid product id", zap.String("id", idStr))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Id is invalid",
		})
	}

	var input RestockInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	mylogger.Info(
		ctx,
		h.logger,
		"restock request",
		zap.Int64("product_id", id),
		zap.Int64("quantity", input.Quantity),
	)

	res, err := h.service.Restock(ctx, id, input.Quantity)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(res)
}

func (h *StockHandler) GetReservation(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	res, err := h.service.GetReservation(ctx, c.Params("orderId"))
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(res)
}

func (h *StockHandler) writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrReservationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidQuantity):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "Request timed out"})
	}

	mylogger.Error(c.UserContext(), h.logger, "request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

package handler

import (
	"net/http"
	"strconv"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/ports"
	"robolabs-sync/internal/features/sync/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SyncHandler exposes the webhook intake and the admin sync surface.
type SyncHandler struct {
	router *service.TriggerRouter
	tasks  ports.TaskScheduler
	store  ports.OrderStore
	api    ports.APIClient
}

// NewSyncHandler creates a new instance of SyncHandler.
func NewSyncHandler(router *service.TriggerRouter, tasks ports.TaskScheduler, store ports.OrderStore, api ports.APIClient) *SyncHandler {
	return &SyncHandler{
		router: router,
		tasks:  tasks,
		store:  store,
		api:    api,
	}
}

// RegisterRoutes attaches the sync endpoints to the application.
func (h *SyncHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/webhooks/woocommerce", h.HandleWebhook)

	admin := app.Group("/admin")
	admin.Post("/orders/:id/sync", h.SyncOrder)
	admin.Post("/orders/:id/resync", h.ResyncOrder)
	admin.Get("/orders/:id/sync-status", h.SyncStatus)
	admin.Post("/test-connection", h.TestConnection)
}

// HandleWebhook ingests a store event and enqueues the matching sync work.
// @Summary Ingest a store event
// @Description Routes an order or refund event into the sync pipeline.
// @Accept json
// @Produce json
// @Success 202 {object} AcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /webhooks/woocommerce [post]
func (h *SyncHandler) HandleWebhook(c *fiber.Ctx) error {
	rayID := rayID(c)

	var event domain.StoreEvent
	if err := c.BodyParser(&event); err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "Invalid event payload",
			RayID:   rayID,
		})
	}

	if event.OrderID == 0 {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "order_id is required",
			RayID:   rayID,
		})
	}
	if event.Type == domain.EventOrderRefunded && event.RefundID == 0 {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "refund_id is required for refund events",
			RayID:   rayID,
		})
	}

	h.router.HandleEvent(event)

	return c.Status(http.StatusAccepted).JSON(AcceptedResponse{
		Accepted: true,
		RayID:    rayID,
	})
}

// SyncOrder enqueues an immediate sync of one order.
// @Summary Sync an order now
// @Produce json
// @Param id path int true "Order ID"
// @Success 202 {object} AcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/orders/{id}/sync [post]
func (h *SyncHandler) SyncOrder(c *fiber.Ctx) error {
	rayID := rayID(c)

	orderID, err := orderIDParam(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "Invalid order id",
			RayID:   rayID,
		})
	}

	h.tasks.ScheduleOrderSync(orderID, 0)

	return c.Status(http.StatusAccepted).JSON(AcceptedResponse{
		Accepted: true,
		RayID:    rayID,
	})
}

// ResyncOrder clears the order's sync state and enqueues a fresh sync. The
// remote invoice, if any, will be re-adopted by its external id rather than
// duplicated.
// @Summary Reset and re-sync an order
// @Produce json
// @Param id path int true "Order ID"
// @Success 202 {object} AcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/orders/{id}/resync [post]
func (h *SyncHandler) ResyncOrder(c *fiber.Ctx) error {
	rayID := rayID(c)

	orderID, err := orderIDParam(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "Invalid order id",
			RayID:   rayID,
		})
	}

	state, err := h.store.SyncState(c.Context(), orderID)
	if err != nil {
		logger.Get().Error("Failed to load sync state",
			zap.Int64("order_id", orderID),
			zap.String("ray_id", rayID),
			zap.Error(err),
		)
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Message: err.Error(),
			RayID:   rayID,
		})
	}

	state.Status = domain.SyncStatusUnsynced
	state.InvoiceRemoteID = ""
	state.InvoiceExternalID = ""
	state.LastError = ""
	state.RetryCount = 0
	state.RefundRetryCount = 0
	state.PendingJobID = ""

	if err := h.store.SaveSyncState(c.Context(), orderID, state); err != nil {
		logger.Get().Error("Failed to reset sync state",
			zap.Int64("order_id", orderID),
			zap.String("ray_id", rayID),
			zap.Error(err),
		)
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Message: err.Error(),
			RayID:   rayID,
		})
	}

	h.tasks.ScheduleOrderSync(orderID, 0)

	return c.Status(http.StatusAccepted).JSON(AcceptedResponse{
		Accepted: true,
		RayID:    rayID,
	})
}

// SyncStatus returns the order's current sync metadata.
// @Summary Get an order's sync status
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.SyncState
// @Failure 400 {object} ErrorResponse
// @Router /admin/orders/{id}/sync-status [get]
func (h *SyncHandler) SyncStatus(c *fiber.Ctx) error {
	rayID := rayID(c)

	orderID, err := orderIDParam(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Message: "Invalid order id",
			RayID:   rayID,
		})
	}

	state, err := h.store.SyncState(c.Context(), orderID)
	if err != nil {
		logger.Get().Error("Failed to load sync state",
			zap.Int64("order_id", orderID),
			zap.String("ray_id", rayID),
			zap.Error(err),
		)
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Message: err.Error(),
			RayID:   rayID,
		})
	}

	return c.Status(http.StatusOK).JSON(state)
}

// TestConnection verifies the RoboLabs credentials by listing journals.
// @Summary Test the RoboLabs connection
// @Produce json
// @Success 200 {object} AcceptedResponse
// @Failure 502 {object} ErrorResponse
// @Router /admin/test-connection [post]
func (h *SyncHandler) TestConnection(c *fiber.Ctx) error {
	rayID := rayID(c)

	res := h.api.Get(c.Context(), "journal/find", nil)
	if !res.OK() {
		return c.Status(http.StatusBadGateway).JSON(ErrorResponse{
			Message: res.Message,
			RayID:   rayID,
		})
	}

	return c.Status(http.StatusOK).JSON(AcceptedResponse{
		Accepted: true,
		RayID:    rayID,
	})
}

func rayID(c *fiber.Ctx) string {
	id, ok := c.Locals("requestid").(string)
	if !ok {
		return "unknown"
	}
	return id
}

func orderIDParam(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

// ErrorResponse represents the structure of an error response.
type ErrorResponse struct {
	// Message describes what failed.
	Message string `json:"message"`
	// RayID correlates the response with server logs.
	RayID string `json:"ray_id"`
}

// AcceptedResponse acknowledges enqueued work.
type AcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	RayID    string `json:"ray_id"`
}

package httpgin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/service"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/service/checkout"
)

type RouterConfig struct {
	JWTSecret   []byte
	CORSOrigins []string
}

func NewRouter(
	svcs *service.Services,
	idem IdempotencyStore,
	logger *slog.Logger,
	cfg RouterConfig,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS(cfg.CORSOrigins))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, success(gin.H{"status": "ok"}))
	})

	// Public API
	r.GET("/events", handleListEvents(svcs))
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))

	auth := r.Group("/", AuthMiddleware(cfg.JWTSecret))
	{
		auth.POST("/events", handleCreateEvent(svcs))
		auth.PUT("/events/:id", handleUpdateEvent(svcs))
		auth.DELETE("/events/:id", handleDeleteEvent(svcs))

		auth.POST("/checkout/sessions", handleOpenSession(svcs))

		auth.POST("/bookings", Idempotent(idem), handleConfirmBooking(svcs))
		auth.GET("/bookings", handleListBookings(svcs))
		auth.GET("/bookings/:id", handleGetBooking(svcs))
		auth.DELETE("/bookings/:id", handleCancelBooking(svcs))
	}

	return r
}

// --- Events ---

// @Summary  List events
// @Tags     events
// @Param    limit  query  int  false  "page size (default 20, max 100)"
// @Param    offset query  int  false  "offset"
// @Success  200  {object}  SuccessResponse{data=[]EventResponse}
// @Router   /events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Events.List(c.Request.Context(), pageFromQuery(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]EventResponse, 0, len(list))
		for _, e := range list {
			out = append(out, eventResponse(e))
		}

		writeJSONWithCache(c, out, "public, max-age=15")
	}
}

// @Summary  Get event
// @Tags     events
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  SuccessResponse{data=EventResponse}
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		e, err := svcs.Events.Get(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, eventResponse(*e), "public, max-age=60")
	}
}

// @Summary      Get remaining capacity
// @Description  Advisory snapshot; bookings re-check capacity under lock.
// @Tags         events
// @Param        id  path  int  true  "Event ID"
// @Success      200  {object}  SuccessResponse{data=domain.CapacitySnapshot}
// @Failure      404  {object}  ErrorResponse
// @Router       /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		snap, err := svcs.Events.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, snap, "public, max-age=15")
	}
}

// @Summary   Create event
// @Tags      events
// @Security  BearerAuth
// @Param     req  body  EventRequest  true  "event"
// @Success   201  {object}  SuccessResponse{data=EventResponse}
// @Failure   400  {object}  ErrorResponse
// @Failure   403  {object}  ErrorResponse
// @Router    /events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EventRequest
		if !bindJSON(c, &req) {
			return
		}

		e, err := svcs.Events.Create(c.Request.Context(), principal(c), req.input())
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, success(eventResponse(*e)))
	}
}

// @Summary   Update event
// @Tags      events
// @Security  BearerAuth
// @Param     id   path  int           true  "Event ID"
// @Param     req  body  EventRequest  true  "event"
// @Success   200  {object}  SuccessResponse{data=EventResponse}
// @Failure   403  {object}  ErrorResponse
// @Failure   404  {object}  ErrorResponse
// @Failure   409  {object}  ErrorResponse  "capacity below booked"
// @Router    /events/{id} [put]
func handleUpdateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req EventRequest
		if !bindJSON(c, &req) {
			return
		}

		e, err := svcs.Events.Update(c.Request.Context(), principal(c), eventID, req.input())
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, success(eventResponse(*e)))
	}
}

// @Summary   Delete event
// @Tags      events
// @Security  BearerAuth
// @Param     id  path  int  true  "Event ID"
// @Success   204
// @Failure   403  {object}  ErrorResponse
// @Failure   404  {object}  ErrorResponse
// @Router    /events/{id} [delete]
func handleDeleteEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		if err := svcs.Events.Delete(c.Request.Context(), principal(c), eventID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// --- Checkout ---

// @Summary      Open checkout session
// @Description  Prices the tickets on the server and returns the hosted payment URL. No booking is created.
// @Tags         checkout
// @Security     BearerAuth
// @Param        req  body  OpenSessionRequest  true  "what to buy"
// @Success      201  {object}  SuccessResponse{data=SessionResponse}
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse  "capacity exceeded / event closed"
// @Failure      429  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /checkout/sessions [post]
func handleOpenSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenSessionRequest
		if !bindJSON(c, &req) {
			return
		}

		p := principal(c)

		s, err := svcs.Checkout.OpenSession(c.Request.Context(), checkout.OpenInput{
			EventID:      req.EventID,
			UserID:       p.UserID,
			UserEmail:    p.Email,
			AttendeeName: req.AttendeeName,
			Quantity:     req.Quantity,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, success(SessionResponse{
			SessionID: s.ID,
			URL:       s.URL,
			Amount:    s.Amount,
			EventID:   s.EventID,
			Quantity:  s.Quantity,
		}))
	}
}

// --- Bookings ---

// @Summary      Confirm booking
// @Description  Materializes the booking of a paid checkout session. Repeating the call with the same session_id returns the same booking with 200.
// @Tags         bookings
// @Security     BearerAuth
// @Param        Idempotency-Key  header  string                 false  "client retry key"
// @Param        req              body    ConfirmBookingRequest  true   "booking"
// @Success      201  {object}  SuccessResponse{data=BookingResponse}
// @Success      200  {object}  SuccessResponse{data=BookingResponse}  "replay"
// @Failure      400  {object}  ErrorResponse
// @Failure      402  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /bookings [post]
func handleConfirmBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfirmBookingRequest
		if !bindJSON(c, &req) {
			return
		}

		res, err := svcs.Bookings.Confirm(c.Request.Context(), booking.ConfirmInput{
			SessionID:     req.SessionID,
			EventID:       req.EventID,
			UserID:        principal(c).UserID,
			AttendeeName:  req.AttendeeName,
			Quantity:      req.Quantity,
			ClaimedAmount: req.BookingAmount,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}

		c.JSON(status, success(BookingResponse{Booking: *res.Booking, Replayed: res.Replayed}))
	}
}

// @Summary   List own bookings
// @Tags      bookings
// @Security  BearerAuth
// @Param     limit  query  int  false  "page size (default 20, max 100)"
// @Param     offset query  int  false  "offset"
// @Success   200  {object}  SuccessResponse{data=[]domain.Booking}
// @Router    /bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Bookings.ListMine(c.Request.Context(), principal(c).UserID, pageFromQuery(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		if list == nil {
			list = []domain.Booking{}
		}

		c.JSON(http.StatusOK, success(list))
	}
}

// @Summary   Get booking
// @Tags      bookings
// @Security  BearerAuth
// @Param     id  path  string  true  "Booking ID (uuid)"
// @Success   200  {object}  SuccessResponse{data=domain.Booking}
// @Failure   403  {object}  ErrorResponse
// @Failure   404  {object}  ErrorResponse
// @Router    /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Bookings.Get(c.Request.Context(), id, principal(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, success(b))
	}
}

// @Summary   Cancel booking
// @Tags      bookings
// @Security  BearerAuth
// @Param     id  path  string  true  "Booking ID (uuid)"
// @Success   204
// @Failure   403  {object}  ErrorResponse
// @Failure   404  {object}  ErrorResponse
// @Router    /bookings/{id} [delete]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		if err := svcs.Bookings.Cancel(c.Request.Context(), id, principal(c)); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondErr(c, invalidBody(err))
		return false
	}
	return true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func pageFromQuery(c *gin.Context) domain.Page {
	return domain.Page{
		Limit:  parseIntDefault(c.Query("limit"), 20),
		Offset: max(parseIntDefault(c.Query("offset"), 0), 0),
	}
}

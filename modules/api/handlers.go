package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/yuka166/chatapp-server/modules/identity"
	"github.com/yuka166/chatapp-server/modules/ratelimit"
	"github.com/yuka166/chatapp-server/modules/session"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	// The handshake credential is read here, where headers and cookies are
	// still available, and verified once the socket is open.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(handshakeTokenKey, session.ExtractToken(
			c.Query("token"),
			c.Get(fiber.HeaderAuthorization),
			c.Cookies(session.CookieName),
		))
		return c.Next()
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	v1 := app.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.Post("/register", m.register)
	auth.Post("/login", m.login)
	auth.Post("/logout", m.logout)
	auth.Get("/logout", m.logout)

	protected := v1.Group("", AuthMiddleware(m.gate, m.writeError))
	protected.Get("/users/:username", m.searchUsers)
	protected.Get("/rooms", m.listRooms)
	protected.Get("/rooms/:id", m.getRoom)
	protected.Get("/chats/:id", m.getHistory)
	protected.Get("/stats", m.getStats)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Modules:   make(map[string]ModuleHealth, len(m.checkers)),
	}
	for name, checker := range m.checkers {
		h := checker.Health(ctx)
		resp.Modules[name] = ModuleHealth{
			Healthy: h.Healthy,
			Message: h.Message,
			Details: h.Details,
		}
		if !h.Healthy {
			resp.Status = "unhealthy"
		}
	}

	status := fiber.StatusOK
	if resp.Status != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

// register handles POST /api/v1/auth/register.
func (m *APIModule) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation",
			Message: "Invalid request body",
		})
	}

	resp, err := m.identity.Register(c.UserContext(), identity.RegisterRequest{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return m.writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(RegisterResponse{
		Status:   "created",
		ID:       resp.ID,
		Username: resp.Username,
		Email:    resp.Email,
	})
}

// login handles POST /api/v1/auth/login.
func (m *APIModule) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation",
			Message: "Invalid request body",
		})
	}

	if m.limiter != nil {
		if err := m.limiter.Allow(c.UserContext(), ratelimit.BucketLogin, c.IP()); err != nil {
			return m.writeError(c, err)
		}
	}

	resp, err := m.identity.Login(c.UserContext(), req.Username, req.Password, req.StaySignIn)
	if err != nil {
		return m.writeError(c, err)
	}

	cookie := &fiber.Cookie{
		Name:     session.CookieName,
		Value:    resp.AccessToken,
		HTTPOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteNoneMode,
	}
	if req.StaySignIn {
		cookie.MaxAge = int(resp.ExpiresIn)
	} else {
		cookie.SessionOnly = true
	}
	c.Cookie(cookie)

	return c.JSON(LoginResponse{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   resp.ExpiresIn,
	})
}

// logout handles POST and GET /api/v1/auth/logout.
func (m *APIModule) logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteNoneMode,
	})
	return c.JSON(fiber.Map{"status": "logged out"})
}

// searchUsers handles GET /api/v1/users/:username.
func (m *APIModule) searchUsers(c *fiber.Ctx) error {
	me := identityFrom(c)
	prefix := strings.TrimSpace(c.Params("username"))

	profiles, err := m.identity.SearchUsers(c.UserContext(), prefix, me.UserID, identity.MaxSearchResults)
	if err != nil {
		return m.writeError(c, err)
	}

	users := make([]UserResponse, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, UserResponse{ID: p.ID, Username: p.Username})
	}
	return c.JSON(users)
}

// listRooms handles GET /api/v1/rooms.
func (m *APIModule) listRooms(c *fiber.Ctx) error {
	rooms, err := m.chat.ListRooms(c.UserContext(), identityFrom(c).UserID)
	if err != nil {
		return m.writeError(c, err)
	}
	return c.JSON(rooms)
}

// getRoom handles GET /api/v1/rooms/:id.
func (m *APIModule) getRoom(c *fiber.Ctx) error {
	room, err := m.chat.GetRoom(c.UserContext(), c.Params("id"), identityFrom(c).UserID)
	if err != nil {
		return m.writeError(c, err)
	}
	return c.JSON(room)
}

// getHistory handles GET /api/v1/chats/:id.
func (m *APIModule) getHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	messages, err := m.chat.GetHistory(c.UserContext(), c.Params("id"), identityFrom(c).UserID, limit)
	if err != nil {
		return m.writeError(c, err)
	}
	return c.JSON(messages)
}

// getStats handles GET /api/v1/stats.
func (m *APIModule) getStats(c *fiber.Ctx) error {
	if m.stats == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "stats are not enabled",
		})
	}
	snapshot, err := m.stats.GetStats(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to read stats", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "service temporarily unavailable, please retry",
		})
	}
	return c.JSON(snapshot)
}

package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yuka166/chatapp-server/modules/session"
)

const (
	// IdentityContextKey is the key used to store the verified identity in
	// the Fiber context.
	IdentityContextKey = "identity"

	handshakeTokenKey = "handshake-token"
)

// AuthMiddleware verifies the Bearer token or the auth cookie and stores the
// identity in the context.
func AuthMiddleware(gate *session.Gate, writeError func(*fiber.Ctx, error) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := session.ExtractToken("", c.Get(fiber.HeaderAuthorization), c.Cookies(session.CookieName))
		id, err := gate.Verify(c.UserContext(), token)
		if err != nil {
			return writeError(c, err)
		}
		c.Locals(IdentityContextKey, id)
		return c.Next()
	}
}

// identityFrom returns the identity stored by AuthMiddleware.
func identityFrom(c *fiber.Ctx) session.Identity {
	id, _ := c.Locals(IdentityContextKey).(session.Identity)
	return id
}

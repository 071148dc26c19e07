package pipeline

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// CookieName is the cookie carrying the access credential.
const CookieName = "token"

const stateKey = "pipeline_state"

// Request is a detached snapshot of the inbound HTTP request. Every field is
// copied out of the fasthttp buffers so stages may outlive the handler.
type Request struct {
	Method        string
	Path          string
	ClientIP      string
	Authorization string
	CookieToken   string
	Params        map[string]string
	Query         map[string]string
	Body          []byte
}

// NewRequest snapshots c.
func NewRequest(c *fiber.Ctx) *Request {
	req := &Request{
		Method:        utils.CopyString(c.Method()),
		Path:          utils.CopyString(c.Path()),
		ClientIP:      utils.CopyString(c.IP()),
		Authorization: utils.CopyString(c.Get(fiber.HeaderAuthorization)),
		CookieToken:   utils.CopyString(c.Cookies(CookieName)),
		Params:        make(map[string]string),
		Query:         make(map[string]string),
		Body:          append([]byte(nil), c.Body()...),
	}
	for key, value := range c.AllParams() {
		req.Params[utils.CopyString(key)] = utils.CopyString(value)
	}
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		req.Query[string(key)] = string(value)
	})
	return req
}

// BearerToken returns the token from an "Authorization: Bearer <token>" header.
func (r *Request) BearerToken() (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(r.Authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// HandlerFunc is a route handler that receives the pipeline state.
type HandlerFunc func(c *fiber.Ctx, st *State) error

// Handler wraps h so that it runs only after every stage allowed the request.
// A rejection is returned as the handler error for the app's error handler.
func (p *Pipeline) Handler(h HandlerFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		cancel := context.CancelFunc(func() {})
		if p.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		defer cancel()

		st, err := p.Run(ctx, NewRequest(c))
		if err != nil {
			return err
		}

		c.SetUserContext(ctx)
		c.Locals(stateKey, st)
		return h(c, st)
	}
}

// StateFrom returns the state attached by Handler.
func StateFrom(c *fiber.Ctx) (*State, bool) {
	st, ok := c.Locals(stateKey).(*State)
	return st, ok && st != nil
}

package identity

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// StateSource exposes the resolver state to transport adapters.
type StateSource interface {
	State() ResolverState
}

// RouteGuard is the HTTP adapter for ModuleGuard: it maps guard decisions to
// responses, preserving the rejected route in a cookie so a successful login
// can return the user to where they were headed.
type RouteGuard struct {
	source           StateSource
	guard            *ModuleGuard
	rejectedRouteKey string
	Logger           Logger
	ErrorHandler     func(c router.Context, err error) error
}

type RouteGuardOption func(*RouteGuard)

// WithRejectedRouteKey overrides the cookie name used to stash the rejected
// route (default "rejected_route").
func WithRejectedRouteKey(key string) RouteGuardOption {
	return func(g *RouteGuard) {
		if key != "" {
			g.rejectedRouteKey = key
		}
	}
}

// WithRouteGuardLogger overrides the guard logger.
func WithRouteGuardLogger(logger Logger) RouteGuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.Logger = logger
		}
	}
}

func NewRouteGuard(source StateSource, guard *ModuleGuard, opts ...RouteGuardOption) *RouteGuard {
	if guard == nil {
		guard = NewModuleGuard()
	}

	g := &RouteGuard{
		source:           source,
		guard:            guard,
		rejectedRouteKey: "rejected_route",
		Logger:           defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.ErrorHandler = g.defaultErrHandler

	return g
}

// Protected guards a route with an optional required module. Pass an empty
// module for routes that only require authentication.
func (g *RouteGuard) Protected(requiredModule Module) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			state := g.source.State()
			result := g.guard.Evaluate(state, requiredModule, c.OriginalURL())

			switch result.Decision {
			case DecisionPending:
				// still resolving: hold the request, never redirect
				return c.Status(http.StatusServiceUnavailable).
					SendString("resolving session")
			case DecisionUnauthenticated:
				g.SetRedirect(c)
				return c.Redirect(result.RedirectTo, g.redirectStatus(c))
			case DecisionForbidden:
				g.Logger.Info(
					"module access denied",
					"user_id", state.User.ID,
					"module", requiredModule,
					"path", c.OriginalURL(),
				)
				return c.Redirect(result.RedirectTo, g.redirectStatus(c))
			}

			c.SetContext(WithContext(c.Context(), state.User))
			return next(c)
		}
	}
}

// SetRedirect stashes the originally requested location for post-login return.
func (g *RouteGuard) SetRedirect(c router.Context) {
	g.Logger.Info("setting redirect cookie", "key", g.rejectedRouteKey, "path", c.OriginalURL())

	c.Cookie(&router.Cookie{
		Name:     g.rejectedRouteKey,
		Value:    c.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// GetRedirect pops the stashed location, falling back to the provided default
// or the guard's landing route.
func (g *RouteGuard) GetRedirect(c router.Context, def ...string) string {
	r := c.Cookies(g.rejectedRouteKey)
	if r == "" {
		if len(def) > 0 {
			return def[0]
		}
		return g.guard.LandingRoute()
	}
	g.cookieDel(c, g.rejectedRouteKey)
	return r
}

func (g *RouteGuard) redirectStatus(c router.Context) int {
	if c.Method() == string(router.GET) {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

func (g *RouteGuard) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (g *RouteGuard) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	g.Logger.Info(
		"route guard error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		g.SetRedirect(c)
		return c.Redirect(g.guard.LoginRoute(), g.redirectStatus(c))
	default:
		return c.JSON(richErr.Code, router.ViewContext{
			"error": richErr,
		})
	}
}

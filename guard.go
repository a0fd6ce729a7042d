package identity

// RouteDecision is the per-navigation outcome of the authorization guard.
type RouteDecision = string

const (
	// DecisionPending means resolution is still loading; render a pending
	// state, never redirect.
	DecisionPending RouteDecision = "pending"
	// DecisionAuthorized allows the requested content.
	DecisionAuthorized RouteDecision = "authorized"
	// DecisionUnauthenticated redirects to the login entry point.
	DecisionUnauthenticated RouteDecision = "unauthenticated"
	// DecisionForbidden redirects an authenticated user to the landing page.
	DecisionForbidden RouteDecision = "forbidden"
)

// GuardResult carries the decision plus the redirect target when one applies.
// ReturnTo preserves the originally requested location for post-login return.
type GuardResult struct {
	Decision   RouteDecision
	RedirectTo string
	ReturnTo   string
}

// ModuleGuard decides whether a requested route is permitted for a resolved
// identity. Module membership is the sole source of authorization truth; the
// check is case-sensitive exact membership, no hierarchy or wildcards.
type ModuleGuard struct {
	loginRoute   string
	landingRoute string
}

type GuardOption func(*ModuleGuard)

// WithLoginRoute overrides the login entry point (default "/login").
func WithLoginRoute(route string) GuardOption {
	return func(g *ModuleGuard) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithLandingRoute overrides the default landing page (default "/").
func WithLandingRoute(route string) GuardOption {
	return func(g *ModuleGuard) {
		if route != "" {
			g.landingRoute = route
		}
	}
}

func NewModuleGuard(opts ...GuardOption) *ModuleGuard {
	g := &ModuleGuard{
		loginRoute:   "/login",
		landingRoute: "/",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate runs the navigation state machine for one route request.
// requiredModule may be empty for routes that only need authentication.
func (g *ModuleGuard) Evaluate(state ResolverState, requiredModule Module, requestedPath string) GuardResult {
	if state.IsLoading {
		return GuardResult{Decision: DecisionPending}
	}

	if !state.IsAuthenticated || state.User == nil {
		return GuardResult{
			Decision:   DecisionUnauthenticated,
			RedirectTo: g.loginRoute,
			ReturnTo:   requestedPath,
		}
	}

	if requiredModule != "" && !state.User.HasModuleAccess(requiredModule) {
		// authenticated but not granted: send to the landing page, never
		// back to login
		return GuardResult{
			Decision:   DecisionForbidden,
			RedirectTo: g.landingRoute,
		}
	}

	return GuardResult{Decision: DecisionAuthorized}
}

// LoginRoute returns the configured login entry point.
func (g *ModuleGuard) LoginRoute() string {
	return g.loginRoute
}

// LandingRoute returns the configured landing page.
func (g *ModuleGuard) LandingRoute() string {
	return g.landingRoute
}

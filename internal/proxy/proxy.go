// Package proxy implements the context-enriching reverse proxy that sits in
// front of the registry's unit and project listings. Each route family has an
// immutable descriptor declaring how the inbound path is rewritten and which
// static filter parameters are attached; the home organization id is read
// from the identity store at request time, not at startup, so requests made
// after a /connect pick up the new identity without a restart.
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/telemetry"
)

// OrgUIDHeader is the response header exposing the connected home
// organization to callers, including cross-origin browser clients.
const OrgUIDHeader = "organization-uid"

// Route describes one proxied route family. Immutable after startup.
type Route struct {
	// Name labels the route in metrics (e.g. "tokenized_units").
	Name string
	// PathPrefix is the inbound path this route matches.
	PathPrefix string
	// UpstreamPath replaces PathPrefix in the outbound request.
	UpstreamPath string
	// StaticQuery is merged into the outbound query string.
	StaticQuery url.Values
	// InjectOrgUID attaches orgUid=<homeOrg> to the outbound query.
	InjectOrgUID bool
}

// Routes returns the gateway's proxied route families: tokenized units,
// untokenized units, and projects, all scoped to the home organization.
func Routes() []Route {
	return []Route{
		{
			Name:         "tokenized_units",
			PathPrefix:   "/units/tokenized",
			UpstreamPath: "/v1/units",
			StaticQuery:  url.Values{"hasMarketplaceIdentifier": []string{"true"}},
			InjectOrgUID: true,
		},
		{
			Name:         "untokenized_units",
			PathPrefix:   "/units/untokenized",
			UpstreamPath: "/v1/units",
			StaticQuery:  url.Values{"hasMarketplaceIdentifier": []string{"false"}},
			InjectOrgUID: true,
		},
		{
			Name:         "projects",
			PathPrefix:   "/projects",
			UpstreamPath: "/v1/projects",
			StaticQuery:  url.Values{},
			InjectOrgUID: true,
		},
	}
}

// Handler forwards matching requests to the registry with the rewritten
// target and injects the organization-uid response header.
type Handler struct {
	store *identity.Store
}

// NewHandler creates a proxy handler reading identity from store.
func NewHandler(store *identity.Store) *Handler {
	return &Handler{store: store}
}

// Proxy returns a gin handler that forwards requests for the given route.
// The upstream's status and body pass through unchanged, including errors;
// the proxy never translates or swallows upstream failures.
func (h *Handler) Proxy(route Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := h.store.Get()

		target, err := url.Parse(id.RegistryHost)
		if err != nil {
			slog.Error("invalid registry host for proxying", "host", id.RegistryHost, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"message": "registry host is misconfigured", "error": err.Error()})
			return
		}

		rp := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetXForwarded()
				out := pr.Out
				out.URL.Scheme = target.Scheme
				out.URL.Host = target.Host
				out.URL.Path = route.UpstreamPath + strings.TrimPrefix(pr.In.URL.Path, route.PathPrefix)
				// Origin rewrite: present the registry's own host upstream.
				out.Host = target.Host

				q := pr.In.URL.Query()
				for key, values := range route.StaticQuery {
					q[key] = values
				}
				if route.InjectOrgUID && id.Connected() {
					q.Set("orgUid", id.HomeOrg)
				}
				out.URL.RawQuery = q.Encode()
			},
			ModifyResponse: func(resp *http.Response) error {
				telemetry.ProxiedRequestsTotal.WithLabelValues(route.Name, strconv.Itoa(resp.StatusCode)).Inc()
				if id.Connected() {
					resp.Header.Set(OrgUIDHeader, id.HomeOrg)
					resp.Header.Set("Access-Control-Expose-Headers", OrgUIDHeader)
				}
				return nil
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				slog.Error("proxy request failed", "route", route.Name, "upstream", target.Host, "error", err)
				telemetry.ProxiedRequestsTotal.WithLabelValues(route.Name, strconv.Itoa(http.StatusBadGateway)).Inc()
				w.WriteHeader(http.StatusBadGateway)
			},
		}

		rp.ServeHTTP(c.Writer, c.Request)
	}
}

// Package webfinger resolves account handles and actor URLs to actor
// summaries.
//
// Resolution tries, in order:
//  1. a caller-supplied actor URL, fetched directly
//  2. a Webfinger lookup on the resource's domain, following the
//     application/activity+json link
//  3. when step 2 fails in transport or with an HTTP error and the resource is
//     itself an http(s) URL, the resource fetched directly as an actor
package webfinger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"apview/internal/core/activity"
	"apview/internal/core/apperr"
	"apview/internal/core/netguard"
	"apview/internal/metrics"
)

const (
	activityJSON = "application/activity+json"
	ldJSONAS     = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// Request identifies the actor to resolve. ActorURL takes precedence.
type Request struct {
	Resource string
	ActorURL string
}

// ActorSummary is the normalized projection of an actor document.
type ActorSummary struct {
	Handle   string
	Nickname string
	ID       string
	Domain   string
	Tags     []any
	// Icon is the extracted icon reference, empty when the actor has none.
	Icon        string
	SignedMedia map[string]string
}

// ActorResolver fetches and classifies actor documents.
type ActorResolver interface {
	Resolve(ctx context.Context, rawURL string) (*activity.Resolved, error)
}

// Resolver implements the three-stage actor resolution.
type Resolver struct {
	fetcher activity.Fetcher
	actors  ActorResolver
	guard   *netguard.Guard
}

// NewResolver returns a Resolver. Webfinger documents are fetched with
// fetcher; actors are resolved through actors, which owns caching and media
// signing. guard may be nil.
func NewResolver(fetcher activity.Fetcher, actors ActorResolver, guard *netguard.Guard) *Resolver {
	return &Resolver{fetcher: fetcher, actors: actors, guard: guard}
}

// Resolve returns the summary for req. Errors are *apperr.Error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*ActorSummary, error) {
	resource := strings.TrimSpace(req.Resource)
	actorURL := strings.TrimSpace(req.ActorURL)

	if actorURL != "" {
		return r.fetchActor(ctx, actorURL)
	}
	if resource == "" {
		return nil, apperr.Validation("resource or actor_url is required")
	}

	summary, err := r.lookup(ctx, NormalizeResource(resource))
	if err == nil {
		return summary, nil
	}

	if fallbackEligible(err) && isHTTPURL(resource) {
		slog.Info("[WEBFINGER] lookup failed, fetching resource as actor",
			"resource", resource,
			"error", err,
		)
		return r.fetchActor(ctx, resource)
	}
	return nil, err
}

// NormalizeResource turns "user@domain" and "@user@domain" into
// "acct:user@domain". Other resources are returned unchanged.
func NormalizeResource(resource string) string {
	if strings.HasPrefix(resource, "acct:") || isHTTPURL(resource) {
		return resource
	}
	trimmed := strings.TrimPrefix(resource, "@")
	if user, domain, ok := strings.Cut(trimmed, "@"); ok && user != "" && domain != "" && !strings.Contains(domain, "/") {
		return "acct:" + trimmed
	}
	return resource
}

// QueryURL builds the Webfinger query URL for resource.
func QueryURL(resource string) (string, error) {
	var domain, subject string

	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		parts := strings.Split(acct, "@")
		if len(parts) != 2 || parts[0] == "" {
			return "", apperr.Validation("Invalid acct format")
		}
		host, err := acctDomain(parts[1])
		if err != nil {
			return "", apperr.Validation("Invalid acct format").WithCause(err)
		}
		domain, subject = host, resource
	} else if u, err := url.Parse(resource); err == nil && u.Host != "" {
		domain, subject = u.Host, resource
	} else {
		domain, subject = resource, "acct:"+resource
	}

	q := url.Values{}
	q.Set("resource", subject)
	return "https://" + domain + "/.well-known/webfinger?" + q.Encode(), nil
}

// acctDomain validates the domain part of an acct URI and returns it in
// ASCII form. Internationalized names are converted to punycode; an optional
// port and IP literals are kept.
func acctDomain(domain string) (string, error) {
	if domain == "" || strings.ContainsAny(domain, "/?#@\\ \t\r\n") {
		return "", errors.New("malformed domain")
	}
	u, err := url.Parse("https://" + domain)
	if err != nil || u.Host != domain || u.Hostname() == "" {
		return "", errors.New("malformed domain")
	}
	host := u.Hostname()
	if _, err := netip.ParseAddr(host); err == nil {
		return strings.ToLower(domain), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		return ascii + ":" + port, nil
	}
	return ascii, nil
}

// lookup runs stage 2: the Webfinger query and the linked actor fetch.
func (r *Resolver) lookup(ctx context.Context, resource string) (*ActorSummary, error) {
	queryURL, err := QueryURL(resource)
	if err != nil {
		return nil, err
	}
	if r.guard != nil {
		if err := r.guard.Validate(queryURL); err != nil {
			return nil, netguard.AppError(err)
		}
	}

	resp, err := r.fetcher.Get(ctx, queryURL, activity.AcceptWebfinger)
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues("webfinger", "error").Inc()
		var rejected *netguard.RejectedError
		if errors.As(err, &rejected) || errors.Is(err, netguard.ErrTooManyRedirects) {
			return nil, netguard.AppError(err)
		}
		return nil, apperr.Upstream(http.StatusInternalServerError, "Failed to fetch webfinger", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.UpstreamFetches.WithLabelValues("webfinger", "http_error").Inc()
		return nil, apperr.Upstream(resp.StatusCode, apperr.UpstreamMessage(resp.StatusCode), nil)
	}

	var doc map[string]any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		metrics.UpstreamFetches.WithLabelValues("webfinger", "rejected").Inc()
		return nil, &apperr.Error{
			Kind:    apperr.KindUpstream,
			Status:  http.StatusBadGateway,
			Message: "Invalid webfinger response",
			Err:     errNoFallback{err},
		}
	}
	metrics.UpstreamFetches.WithLabelValues("webfinger", "ok").Inc()

	links, _ := doc["links"].([]any)
	href := actorLink(links)
	if href == "" {
		return nil, apperr.NotFound("No ActivityPub actor found")
	}
	return r.fetchActor(ctx, href)
}

// actorLink returns the href of the first activity+json link, falling back
// to the JSON-LD ActivityStreams profile type. Entries that are not objects
// or lack string type and href are skipped.
func actorLink(links []any) string {
	var ld string
	for _, entry := range links {
		link, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		href := stringField(link, "href")
		if href == "" {
			continue
		}
		switch stringField(link, "type") {
		case activityJSON:
			return href
		case ldJSONAS:
			if ld == "" {
				ld = href
			}
		}
	}
	return ld
}

// fetchActor resolves actorURL and projects it into a summary.
func (r *Resolver) fetchActor(ctx context.Context, actorURL string) (*ActorSummary, error) {
	res, err := r.actors.Resolve(ctx, actorURL)
	if err != nil {
		return nil, err
	}
	obj, ok := res.Document.(map[string]any)
	if !ok {
		return nil, apperr.Validation("Actor document must be a JSON object")
	}

	summary := &ActorSummary{
		Handle:      stringField(obj, "preferredUsername"),
		Nickname:    stringField(obj, "name"),
		ID:          stringField(obj, "id"),
		Tags:        tagList(obj["tag"]),
		SignedMedia: res.SignedMedia,
	}
	if summary.ID == "" {
		summary.ID = actorURL
	}
	if u, err := url.Parse(actorURL); err == nil {
		summary.Domain = u.Host
	}
	if icon, ok := activity.ExtractMediaURL(obj["icon"]); ok {
		summary.Icon = icon
	}
	return summary, nil
}

// errNoFallback marks stage 2 failures that are not transport or HTTP
// failures.
type errNoFallback struct{ err error }

func (e errNoFallback) Error() string { return e.err.Error() }
func (e errNoFallback) Unwrap() error { return e.err }

// fallbackEligible reports whether a stage 2 failure may trigger the raw URL
// fallback: upstream transport or HTTP failures only, never a missing link or
// invalid input.
func fallbackEligible(err error) bool {
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindUpstream {
		return false
	}
	_, noFallback := e.Err.(errNoFallback)
	return !noFallback
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// tagList normalizes the tag field to a list. A missing field is empty.
func tagList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	default:
		return []any{t}
	}
}

package webfinger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apview/internal/core/activity"
	"apview/internal/core/apperr"
	"apview/internal/core/netguard"
	"apview/internal/core/signing"
)

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]*activity.Response
	errs      map[string]error
	requested []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string]*activity.Response),
		errs:      make(map[string]error),
	}
}

func (f *stubFetcher) serve(rawURL, contentType, body string) {
	f.responses[rawURL] = &activity.Response{
		FinalURL:    rawURL,
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		Body:        []byte(body),
	}
}

func (f *stubFetcher) Get(_ context.Context, rawURL, _ string) (*activity.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[rawURL]; ok {
		return resp, nil
	}
	return &activity.Response{FinalURL: rawURL, StatusCode: http.StatusNotFound}, nil
}

func newTestResolver(t *testing.T, f *stubFetcher) (*Resolver, *signing.Signer) {
	t.Helper()
	signer, err := signing.NewSigner([]byte("webfinger-test-secret-key"))
	require.NoError(t, err)
	actors := activity.NewResolver(f, nil, signer)
	return NewResolver(f, actors, nil), signer
}

const (
	aliceWebfinger = "https://example.com/.well-known/webfinger?resource=acct%3Aalice%40example.com"
	aliceActor     = "https://example.com/users/alice"
	aliceJSON      = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"type": "Person",
		"id": "https://example.com/users/alice",
		"preferredUsername": "alice",
		"name": "Alice :wave:",
		"icon": {"type": "Image", "url": "https://cdn.example.com/alice.png"},
		"tag": [{"type": "Emoji", "name": ":wave:", "icon": {"url": "https://cdn.example.com/wave.png"}}]
	}`
)

func aliceJRD(href string) string {
	return fmt.Sprintf(`{
		"subject": "acct:alice@example.com",
		"links": [
			{"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": "https://example.com/@alice"},
			{"rel": "self", "type": "application/activity+json", "href": %q}
		]
	}`, href)
}

func TestResolve_AcctViaWebfinger(t *testing.T) {
	f := newStubFetcher()
	f.serve(aliceWebfinger, "application/jrd+json", aliceJRD(aliceActor))
	f.serve(aliceActor, "application/activity+json", aliceJSON)
	r, signer := newTestResolver(t, f)

	summary, err := r.Resolve(context.Background(), Request{Resource: "acct:alice@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "example.com", summary.Domain)
	assert.Equal(t, "alice", summary.Handle)
	assert.Equal(t, "Alice :wave:", summary.Nickname)
	assert.Equal(t, aliceActor, summary.ID)
	assert.Equal(t, "https://cdn.example.com/alice.png", summary.Icon)
	assert.Len(t, summary.Tags, 1)

	require.Len(t, summary.SignedMedia, 2)
	for u, sig := range summary.SignedMedia {
		assert.True(t, signer.Verify(u, sig), u)
	}
}

func TestResolve_NoActivityPubLink(t *testing.T) {
	f := newStubFetcher()
	f.serve(aliceWebfinger, "application/jrd+json",
		`{"subject":"acct:alice@example.com","links":[{"rel":"http://webfinger.net/rel/profile-page","type":"text/html","href":"https://example.com/@alice"}]}`)
	r, _ := newTestResolver(t, f)

	_, err := r.Resolve(context.Background(), Request{Resource: "acct:alice@example.com"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "No ActivityPub actor found", err.(*apperr.Error).Message)
}

func TestResolve_DirectActorURL(t *testing.T) {
	f := newStubFetcher()
	f.serve(aliceActor, "application/activity+json", aliceJSON)
	r, _ := newTestResolver(t, f)

	summary, err := r.Resolve(context.Background(), Request{Resource: "ignored", ActorURL: aliceActor})
	require.NoError(t, err)
	assert.Equal(t, "alice", summary.Handle)
	assert.Equal(t, []string{aliceActor}, f.requested, "webfinger must be skipped")
}

func TestResolve_ShorthandHandles(t *testing.T) {
	for _, resource := range []string{"alice@example.com", "@alice@example.com"} {
		t.Run(resource, func(t *testing.T) {
			f := newStubFetcher()
			f.serve(aliceWebfinger, "application/jrd+json", aliceJRD(aliceActor))
			f.serve(aliceActor, "application/activity+json", aliceJSON)
			r, _ := newTestResolver(t, f)

			summary, err := r.Resolve(context.Background(), Request{Resource: resource})
			require.NoError(t, err)
			assert.Equal(t, "alice", summary.Handle)
		})
	}
}

func TestResolve_FallsBackToRawURL(t *testing.T) {
	const profile = "https://social.example.org/@bob"
	f := newStubFetcher()
	f.errs["https://social.example.org/.well-known/webfinger?resource=https%3A%2F%2Fsocial.example.org%2F%40bob"] =
		fmt.Errorf("%w: connection reset", activity.ErrFetchFailed)
	f.serve(profile, "application/activity+json", `{"type":"Person","preferredUsername":"bob"}`)
	r, _ := newTestResolver(t, f)

	summary, err := r.Resolve(context.Background(), Request{Resource: profile})
	require.NoError(t, err)
	assert.Equal(t, "bob", summary.Handle)
	assert.Equal(t, profile, summary.ID, "id falls back to the fetched URL")
	assert.Equal(t, "social.example.org", summary.Domain)
	assert.Equal(t, []any{}, summary.Tags)
	assert.Empty(t, summary.Icon)
}

func TestResolve_FallbackOnHTTPErrorOnly(t *testing.T) {
	const profile = "https://social.example.org/@bob"
	wf := "https://social.example.org/.well-known/webfinger?resource=https%3A%2F%2Fsocial.example.org%2F%40bob"

	t.Run("http error falls back", func(t *testing.T) {
		f := newStubFetcher()
		f.responses[wf] = &activity.Response{StatusCode: http.StatusServiceUnavailable}
		f.serve(profile, "application/activity+json", `{"type":"Person","preferredUsername":"bob"}`)
		r, _ := newTestResolver(t, f)

		_, err := r.Resolve(context.Background(), Request{Resource: profile})
		require.NoError(t, err)
	})

	t.Run("missing link does not fall back", func(t *testing.T) {
		f := newStubFetcher()
		f.serve(wf, "application/jrd+json", `{"links":[]}`)
		f.serve(profile, "application/activity+json", `{"type":"Person"}`)
		r, _ := newTestResolver(t, f)

		_, err := r.Resolve(context.Background(), Request{Resource: profile})
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.Equal(t, []string{wf}, f.requested)
	})

	t.Run("invalid document does not fall back", func(t *testing.T) {
		f := newStubFetcher()
		f.serve(wf, "application/jrd+json", `not json`)
		r, _ := newTestResolver(t, f)

		_, err := r.Resolve(context.Background(), Request{Resource: profile})
		assert.True(t, apperr.Is(err, apperr.KindUpstream))
		assert.Equal(t, []string{wf}, f.requested)
	})

	t.Run("non url resource does not fall back", func(t *testing.T) {
		f := newStubFetcher()
		r, _ := newTestResolver(t, f)

		_, err := r.Resolve(context.Background(), Request{Resource: "acct:alice@example.com"})
		assert.True(t, apperr.Is(err, apperr.KindUpstream))
		assert.Equal(t, []string{aliceWebfinger}, f.requested)
	})

	t.Run("fallback failure is reported", func(t *testing.T) {
		f := newStubFetcher()
		f.errs[wf] = fmt.Errorf("%w: refused", activity.ErrFetchFailed)
		r, _ := newTestResolver(t, f)

		_, err := r.Resolve(context.Background(), Request{Resource: profile})
		assert.True(t, apperr.Is(err, apperr.KindUpstream))
		assert.Equal(t, []string{wf, profile}, f.requested)
	})
}

func TestResolve_Validation(t *testing.T) {
	r, _ := newTestResolver(t, newStubFetcher())

	_, err := r.Resolve(context.Background(), Request{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	for _, bad := range []string{"acct:alice", "acct:a@b@c", "acct:@example.com", "acct:alice@", "acct:alice@not a domain", "acct:alice@example.com/path", "acct:alice@example.com?x=1"} {
		_, err := r.Resolve(context.Background(), Request{Resource: bad})
		require.Error(t, err, bad)
		assert.True(t, apperr.Is(err, apperr.KindValidation), bad)
		assert.Equal(t, "Invalid acct format", err.(*apperr.Error).Message, bad)
	}
}

func TestResolve_GuardBlocksWebfingerDomain(t *testing.T) {
	f := newStubFetcher()
	signer, err := signing.NewSigner([]byte("webfinger-test-secret-key"))
	require.NoError(t, err)
	r := NewResolver(f, activity.NewResolver(f, nil, signer), netguard.New(0))

	_, err = r.Resolve(context.Background(), Request{Resource: "http://127.0.0.1/users/x"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Empty(t, f.requested)
}

func TestQueryURL(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"acct:alice@example.com", aliceWebfinger},
		{"acct:Alice@Example.COM", "https://example.com/.well-known/webfinger?resource=acct%3AAlice%40Example.COM"},
		{"https://example.com/@alice", "https://example.com/.well-known/webfinger?resource=https%3A%2F%2Fexample.com%2F%40alice"},
		{"example.com", "https://example.com/.well-known/webfinger?resource=acct%3Aexample.com"},
		{"acct:alice@bücher.example", "https://xn--bcher-kva.example/.well-known/webfinger?resource=acct%3Aalice%40b%C3%BCcher.example"},
		{"acct:alice@mastodon.local", "https://mastodon.local/.well-known/webfinger?resource=acct%3Aalice%40mastodon.local"},
		{"acct:alice@2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid.onion",
			"https://2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid.onion/.well-known/webfinger?resource=acct%3Aalice%402gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid.onion"},
		{"acct:alice@social.example.com:8443", "https://social.example.com:8443/.well-known/webfinger?resource=acct%3Aalice%40social.example.com%3A8443"},
		{"acct:alice@wiki.internal", "https://wiki.internal/.well-known/webfinger?resource=acct%3Aalice%40wiki.internal"},
	}
	for _, tt := range tests {
		got, err := QueryURL(tt.resource)
		require.NoError(t, err, tt.resource)
		assert.Equal(t, tt.want, got, tt.resource)
	}
}

func TestNormalizeResource(t *testing.T) {
	assert.Equal(t, "acct:alice@example.com", NormalizeResource("alice@example.com"))
	assert.Equal(t, "acct:alice@example.com", NormalizeResource("@alice@example.com"))
	assert.Equal(t, "acct:alice@example.com", NormalizeResource("acct:alice@example.com"))
	assert.Equal(t, "https://example.com/@alice", NormalizeResource("https://example.com/@alice"))
	assert.Equal(t, "example.com", NormalizeResource("example.com"))
	assert.Equal(t, "@alice", NormalizeResource("@alice"))
}

func decodeLinks(t *testing.T, body string) []any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	links, _ := doc["links"].([]any)
	return links
}

func TestActorLink_PrefersActivityJSON(t *testing.T) {
	links := decodeLinks(t, `{"links":[
		{"rel":"self","type":"application/ld+json; profile=\"https://www.w3.org/ns/activitystreams\"","href":"https://a/ld"},
		{"rel":"self","type":"application/activity+json","href":"https://a/as"}
	]}`)
	assert.Equal(t, "https://a/as", actorLink(links))

	ldOnly := decodeLinks(t, `{"links":[
		{"rel":"self","type":"application/ld+json; profile=\"https://www.w3.org/ns/activitystreams\"","href":"https://a/ld"}
	]}`)
	assert.Equal(t, "https://a/ld", actorLink(ldOnly))
}

func TestActorLink_SkipsMalformedEntries(t *testing.T) {
	links := decodeLinks(t, `{"links":[
		"not an object",
		null,
		{"type":7,"href":"https://a/number-type"},
		{"type":"application/activity+json","href":["https://a/list-href"]},
		{"type":"application/activity+json"},
		{"type":"application/activity+json","href":"https://a/as"}
	]}`)
	assert.Equal(t, "https://a/as", actorLink(links))

	assert.Empty(t, actorLink(decodeLinks(t, `{"links":{"type":"application/activity+json","href":"https://a/as"}}`)))
	assert.Empty(t, actorLink(decodeLinks(t, `{"subject":"acct:alice@example.com"}`)))
}

func TestResolve_MalformedLinkAlongsideValidOne(t *testing.T) {
	f := newStubFetcher()
	f.serve(aliceWebfinger, "application/jrd+json",
		`{"subject":"acct:alice@example.com","links":[{"type":7,"href":"h"},{"type":"application/activity+json","href":"https://example.com/users/alice"}]}`)
	f.serve(aliceActor, "application/activity+json", aliceJSON)
	r, _ := newTestResolver(t, f)

	summary, err := r.Resolve(context.Background(), Request{Resource: "acct:alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", summary.Handle)
}

func TestResolve_RejectedWebfingerDialIsForbidden(t *testing.T) {
	const profile = "https://rebind.example/@mallory"
	wf := "https://rebind.example/.well-known/webfinger?resource=https%3A%2F%2Frebind.example%2F%40mallory"
	f := newStubFetcher()
	f.errs[wf] = &netguard.RejectedError{Target: "10.0.0.5:443", Reason: netguard.ErrBlockedAddress}
	f.serve(profile, "application/activity+json", `{"type":"Person","preferredUsername":"mallory"}`)
	r, _ := newTestResolver(t, f)

	_, err := r.Resolve(context.Background(), Request{Resource: profile})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))
	assert.Equal(t, []string{wf}, f.requested, "a blocked target must not trigger the direct fallback")
}

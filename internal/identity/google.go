package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// GoogleFlow signs in with Google through the OAuth 2.0 authorization-code
// flow. The browser is redirected back to a loopback listener, the code is
// exchanged and the resulting ID token is handed to the identity service.
type GoogleFlow struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint // defaults to Google
	Adapter      *Adapter
	// Open shows the consent URL to the user, typically by launching a browser
	// or printing it.
	Open func(url string) error
}

// Run performs the flow and returns the stored session.
func (g *GoogleFlow) Run(ctx context.Context) (*Session, error) {
	if g.ClientID == "" {
		return nil, fmt.Errorf("identity: google sign in: client id is not configured")
	}
	if g.Adapter == nil || g.Open == nil {
		return nil, fmt.Errorf("identity: google sign in: adapter and opener are required")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("identity: google sign in: listen: %w", err)
	}
	defer ln.Close()

	endpoint := g.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  fmt.Sprintf("http://%s/callback", ln.Addr().String()),
		Scopes:       []string{"openid", "email", "profile"},
	}
	state := uuid.NewString()

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	deliver := func(r result) {
		select {
		case done <- r:
		default:
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(result{err: errors.New("state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "sign in was not completed", http.StatusBadRequest)
			deliver(result{err: fmt.Errorf("provider error: %s", q.Get("error"))})
		default:
			fmt.Fprintln(w, "Signed in to Kinber. You can close this window.")
			deliver(result{code: q.Get("code")})
		}
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	if err := g.Open(conf.AuthCodeURL(state, oauth2.AccessTypeOffline)); err != nil {
		return nil, fmt.Errorf("identity: google sign in: open consent page: %w", err)
	}

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("identity: google sign in: %w", ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("identity: google sign in: %w", res.err)
	}

	tok, err := conf.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("identity: google sign in: exchange: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("identity: google sign in: token response carried no id_token")
	}
	log := logging.For("identity")
	log.Debug().Msg("google code exchanged")
	return g.Adapter.SignInWithIDToken(ctx, "google", idToken)
}

package uploaders

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

// OAuthFlow obtains a brand-new token from the account owner.
type OAuthFlow func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)

// LoadOAuthConfig parses a Google client secrets file for the upload scope.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", path, err)
	}
	conf, err := google.ConfigFromJSON(b, youtube.YoutubeUploadScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets %s: %w", path, err)
	}
	return conf, nil
}

// FlowByName maps YOUTUBE_OAUTH_FLOW to a flow; anything but "console" uses the local server.
func FlowByName(name string, in io.Reader, out io.Writer) OAuthFlow {
	if strings.EqualFold(strings.TrimSpace(name), "console") {
		return ConsoleFlow(in, out)
	}
	return LocalServerFlow(out)
}

// ConsoleFlow prints the consent URL and reads the authorization code from in.
func ConsoleFlow(in io.Reader, out io.Writer) OAuthFlow {
	return func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
		state, err := randomState()
		if err != nil {
			return nil, err
		}
		authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintf(out, "Open this URL in your browser:\n  %s\nAfter authorization, paste the authorization code: ", authURL)

		code, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && code != "") {
			return nil, fmt.Errorf("read authorization code: %w", err)
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return nil, errors.New("empty authorization code")
		}
		return conf.Exchange(ctx, code)
	}
}

// LocalServerFlow listens on a loopback port and waits for the OAuth redirect.
func LocalServerFlow(out io.Writer) OAuthFlow {
	return func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("oauth listener: %w", err)
		}
		state, err := randomState()
		if err != nil {
			ln.Close()
			return nil, err
		}

		local := *conf
		local.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())

		codeCh := make(chan string, 1)
		errCh := make(chan error, 1)
		srv := &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("state") != state {
					http.Error(w, "state mismatch", http.StatusBadRequest)
					return
				}
				if e := q.Get("error"); e != "" {
					fmt.Fprintln(w, "Authorization failed. You can close this window.")
					select {
					case errCh <- fmt.Errorf("authorization denied: %s", e):
					default:
					}
					return
				}
				fmt.Fprintln(w, "Authorization complete. You can close this window.")
				select {
				case codeCh <- q.Get("code"):
				default:
				}
			}),
		}
		go srv.Serve(ln)
		defer srv.Close()

		fmt.Fprintf(out, "Open this URL in your browser to authorize YouTube uploads:\n  %s\n",
			local.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-errCh:
			return nil, err
		case code := <-codeCh:
			return local.Exchange(ctx, code)
		}
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

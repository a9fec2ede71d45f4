// Command parleyctl is a terminal chat client for a Parley server. It logs
// in, tails the room via the freshness poller, and accepts simple commands on
// stdin:
//
//	<text>          send a message
//	/search <text>  one-shot substring search
//	/quit           stop polling and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"parley/cmd/internal/poller"
)

func main() {
	var (
		server   = flag.String("server", "http://127.0.0.1:8080", "Parley server base URL")
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password (or PARLEY_PASSWORD)")
		interval = flag.Duration("interval", 10*time.Second, "poll interval")
	)
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("PARLEY_PASSWORD")
	}
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: parleyctl -server URL -email EMAIL [-password PASS]")
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(log, *server, *email, *password, *interval); err != nil {
		fmt.Fprintln(os.Stderr, "parleyctl:", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, server, email, password string, interval time.Duration) error {
	cookie, err := login(server, email, password)
	if err != nil {
		return err
	}

	client := poller.NewClient(server, cookie, 10*time.Second)

	authLost := make(chan struct{})
	p := poller.New(log, client, poller.Config{
		Interval:   interval,
		OnView:     printView,
		OnAuthLost: func(error) { close(authLost) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		return err
	}
	if err := p.Refresh(ctx); err != nil {
		log.Warn("initial refresh failed", "error", err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-authLost:
			p.Stop()
			return fmt.Errorf("session rejected by server, log in again")
		case line, ok := <-lines:
			if !ok {
				p.Stop()
				return nil
			}
			if done := handleLine(ctx, p, line); done {
				p.Stop()
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, p *poller.Poller, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/search "):
		hits, err := p.Search(ctx, strings.TrimPrefix(line, "/search "))
		if err != nil {
			fmt.Println("! search failed:", err)
			return false
		}
		if len(hits) == 0 {
			fmt.Println("no messages found")
			return false
		}
		for _, m := range hits {
			fmt.Printf("  %s: %s\n", m.AuthorName, m.Text)
		}
		return false
	default:
		if _, err := p.Send(ctx, line); err != nil {
			fmt.Println("! send failed:", err)
		}
		return false
	}
}

func printView(msgs []poller.Message) {
	fmt.Printf("--- %d message(s) ---\n", len(msgs))
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.AuthorName, m.Text)
	}
}

// login performs a password login and returns the session cookie.
func login(server, email, password string) (*http.Cookie, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	var fail struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	client := resty.New().SetBaseURL(server).SetCookieJar(jar).SetTimeout(10 * time.Second)
	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"email": email, "password": password}).
		SetError(&fail).
		Post("/auth/login")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !resp.IsSuccess() {
		if fail.Error.Code != "" {
			return nil, fmt.Errorf("login rejected: %s", fail.Error.Message)
		}
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode())
	}

	for _, c := range resp.Cookies() {
		if strings.Contains(c.Name, "session") {
			return c, nil
		}
	}
	return nil, fmt.Errorf("login: no session cookie in response")
}

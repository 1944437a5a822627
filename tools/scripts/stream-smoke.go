// Package main provides a CI-friendly smoke test for the Plume live stream.
//
// It validates, against a running server:
//   - register + login via the session cookie
//   - SSE timeline handshake and fanout of a published post
//   - WebSocket timeline fanout of the same post
//   - drafts staying invisible to live viewers
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	handle := fmt.Sprintf("@smoke%d", time.Now().UnixNano()%1_000_000)
	password := "smoke-test-password"

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: *timeout}

	mustPostJSON(client, base+"/auth/register", map[string]string{
		"handle": handle, "name": "Smoke", "password": password,
	}, http.StatusCreated)
	mustPostJSON(client, base+"/auth/login", map[string]string{
		"handle": handle, "password": password,
	}, http.StatusOK)
	if *verbose {
		fmt.Printf("logged in as %s\n", handle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sse := mustOpenSSE(ctx, base, handle)
	defer sse.Body.Close()

	wsConn := mustOpenWS(ctx, base, handle)
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	// A draft first: it must never surface on either stream.
	mustPostJSON(client, base+"/posts", map[string]any{
		"title": "smoke draft", "body": "invisible", "publish": false,
	}, http.StatusCreated)

	title := fmt.Sprintf("smoke post %d", time.Now().UnixNano())
	mustPostJSON(client, base+"/posts", map[string]any{
		"title": title, "body": "hello stream", "publish": true,
	}, http.StatusCreated)

	ssePost := mustReadSSEPost(sse, *timeout)
	if ssePost.Title != title {
		fatalf("sse: got post %q, want %q (draft leaked?)", ssePost.Title, title)
	}
	wsPost := mustReadWSPost(ctx, wsConn, *timeout)
	if wsPost.Title != title {
		fatalf("ws: got post %q, want %q (draft leaked?)", wsPost.Title, title)
	}

	fmt.Printf("OK: handle=%s title=%q delivered on sse+ws\n", handle, title)
}

type smokePost struct {
	Title        string `json:"title"`
	AuthorHandle string `json:"author_handle"`
	Status       string `json:"status"`
}

func mustPostJSON(client *http.Client, url string, body any, wantStatus int) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal body: %v", err)
	}
	resp, err := client.Post(url, "application/json", strings.NewReader(string(b)))
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d want=%d", url, resp.StatusCode, wantStatus)
	}
}

func mustOpenSSE(ctx context.Context, base, handle string) *http.Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stream/timeline/"+handle, nil)
	if err != nil {
		fatalf("build sse request: %v", err)
	}
	// No client timeout: the stream stays open past any single step.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		fatalf("open sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("sse handshake: status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		fatalf("sse content type: %q", ct)
	}
	return resp
}

func mustReadSSEPost(resp *http.Response, timeout time.Duration) smokePost {
	type result struct {
		post smokePost
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var p smokePost
			if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &p); err != nil {
				ch <- result{err: err}
				return
			}
			ch <- result{post: p}
			return
		}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			fatalf("read sse frame: %v", res.err)
		}
		return res.post
	case <-time.After(timeout):
		fatalf("timeout waiting for sse frame")
		return smokePost{}
	}
}

func mustOpenWS(ctx context.Context, base, handle string) *websocket.Conn {
	wsURL := strings.Replace(base, "http", "ws", 1) + "/stream/ws?feed=timeline&filter=" + handle
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("open ws: %v", err)
	}
	return conn
}

func mustReadWSPost(ctx context.Context, conn *websocket.Conn, timeout time.Duration) smokePost {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		fatalf("read ws frame: %v", err)
	}
	var frame struct {
		Feed    string          `json:"feed"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		fatalf("ws frame json: %v", err)
	}
	if frame.Feed != "timeline" {
		fatalf("ws frame feed: %q", frame.Feed)
	}
	var p smokePost
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		fatalf("ws payload json: %v", err)
	}
	return p
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	domain "github.com/bryanwahyu/domain-insight/internal/domain/session"
)

type chatOptions struct {
	url    string
	token  string
	apiKey string
}

func NewChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running insight server over a websocket",
		Long: `Open a session and ask questions in plain language.

Examples:
  insight chat --url ws://localhost:8080/ws
  insight chat --token my-session   # resume an earlier conversation

Inside the session type things like "how is stripe.com doing?" and then
"how about vs adyen.com". Ctrl-D quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8080/ws", "Websocket endpoint")
	cmd.Flags().StringVar(&opts.token, "token", "", "Session token to resume")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", os.Getenv("INSIGHT_API_KEY"), "API key")
	return cmd
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	u, err := url.Parse(opts.url)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if opts.token != "" {
		q := u.Query()
		q.Set("token", opts.token)
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if opts.apiKey != "" {
		header.Set("Authorization", "Bearer "+opts.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.Redacted(), err)
	}
	defer conn.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(conn, out, s)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return closeChat(conn)
		case err := <-readErr:
			s.Stop()
			return err
		case line, ok := <-lines:
			if !ok {
				s.Stop()
				return closeChat(conn)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			msg := map[string]any{"type": domain.TypeChat, "payload": domain.ChatPayload{Content: line}}
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
			s.Suffix = " waiting..."
			s.Start()
		}
	}
}

func closeChat(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return nil
}

// readFrames prints server frames until the connection ends.
func readFrames(conn *websocket.Conn, out io.Writer, s *spinner.Spinner) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if f.Type == domain.TypeAnalysisUpdate {
			var u domain.UpdatePayload
			if json.Unmarshal(f.Payload, &u) == nil {
				s.Lock()
				s.Suffix = fmt.Sprintf(" %3d%% %s", u.Progress, u.Message)
				s.Unlock()
			}
			continue
		}
		s.Stop()
		renderFrame(out, f)
	}
}

func renderFrame(out io.Writer, f frame) {
	switch f.Type {
	case domain.TypeConnection:
		var p domain.ConnectionPayload
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(out, "%s session %s\n", color.GreenString("✓"), color.CyanString(p.SessionID))
		if p.Rehydrated && len(p.RecentTargets) > 0 {
			fmt.Fprintf(out, "  %s\n", color.HiBlackString("recent: "+strings.Join(p.RecentTargets, ", ")))
		}
	case domain.TypeChat:
		var p domain.ChatPayload
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(out, "\n%s\n\n", p.Content)
	case domain.TypeError:
		var p domain.ErrorPayload
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(out, "%s %s: %s\n", color.RedString("✗"), p.Code, p.Message)
	case domain.TypePong:
	default:
		fmt.Fprintf(out, "%s %s\n", color.HiBlackString(f.Type), string(f.Payload))
	}
}

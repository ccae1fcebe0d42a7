package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/sweeney/callpop/internal/config"
	"github.com/sweeney/callpop/internal/pbx"
)

func main() {
	configPath := flag.String("config", "/etc/callpop/callpop.yaml", "Path to config file")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := capture(ctx, cfg.PBX, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// capture records every stream frame, with the entity detail looked up
// at the time, as one JSON line per frame.
func capture(ctx context.Context, cfg config.PBXConfig, outDir string) error {
	tokens := pbx.NewTokenSource(pbx.TokenOptions{
		URL:          cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		SafetyBuffer: cfg.TokenSafetyBuffer,
	})
	details := pbx.NewDetailClient(cfg.BaseURL, tokens, cfg.RequestTimeout)

	token, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	fmt.Printf("connecting to %s...\n", cfg.StreamURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.StreamURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	fmt.Println("streaming events (ctrl+c to stop)...")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := pbx.Decode(data)
		if err != nil {
			fmt.Fprintf(f, "# undecodable: %s\n", bytes.TrimSpace(data))
			continue
		}

		c := pbx.Capture{Message: msg}
		if msg.Event.Type == pbx.EventUpsert {
			d, err := details.Lookup(ctx, msg.Event.Entity)
			if err != nil {
				fmt.Fprintf(os.Stderr, "detail %s: %v\n", msg.Event.Entity, err)
			}
			c.Detail = d
		}
		if err := writeCapture(f, c); err != nil {
			return err
		}
	}
}

func writeCapture(w io.Writer, c pbx.Capture) error {
	line, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding capture: %w", err)
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

var phonePattern = regexp.MustCompile(`\d`)

// maskNumber keeps the last four digits of a caller number.
func maskNumber(n string) string {
	digits := 0
	for i := len(n) - 1; i >= 0; i-- {
		if n[i] < '0' || n[i] > '9' {
			continue
		}
		digits++
		if digits == 4 {
			return phonePattern.ReplaceAllString(n[:i], "5") + n[i:]
		}
	}
	return n
}

// sanitizeLine masks caller identity in one capture line. Comment and
// unparseable lines are returned unchanged.
func sanitizeLine(line string) (string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line, nil
	}
	var c pbx.Capture
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		return line, nil
	}
	if c.Detail == nil {
		return line, nil
	}
	c.Detail.CallerNumber = maskNumber(c.Detail.CallerNumber)
	if c.Detail.CallerName != "" {
		c.Detail.CallerName = "Test Caller"
	}
	var buf bytes.Buffer
	if err := writeCapture(&buf, c); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, err := sanitizeLine(scanner.Text())
		if err != nil {
			return err
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0o644)
}

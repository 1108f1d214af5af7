// chatclient 命令行客户端
//
//	chatclient list [-archived] [-q text]
//	chatclient open <conversationId>
//	chatclient send <conversationId> <text>
//	chatclient new <userId> <subject> <text>
//	chatclient star|mute|archive <conversationId>
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/incyashraj/ParkShare-sub000/client"
	"github.com/incyashraj/ParkShare-sub000/client/api"
	"github.com/incyashraj/ParkShare-sub000/client/keystore"
	"github.com/incyashraj/ParkShare-sub000/client/pipeline"
	"github.com/incyashraj/ParkShare-sub000/client/realtime"
	"github.com/incyashraj/ParkShare-sub000/shared/codec"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

type config struct {
	UserID      int64         `env:"PARKSHARE_USER_ID,required"`
	Token       string        `env:"PARKSHARE_TOKEN,required"`
	APIURL      string        `env:"PARKSHARE_API_URL" envDefault:"http://localhost:8081/api/v1"`
	RealtimeURL string        `env:"PARKSHARE_REALTIME_URL" envDefault:"https://localhost:4433/webtransport"`
	DeviceID    string        `env:"PARKSHARE_DEVICE_ID"`
	KeyDir      string        `env:"PARKSHARE_KEY_DIR"`
	Insecure    bool          `env:"PARKSHARE_INSECURE" envDefault:"false"`
	Heartbeat   time.Duration `env:"PARKSHARE_HEARTBEAT" envDefault:"20s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"warn"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, args); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger, args []string) error {
	apiClient := api.New(cfg.APIURL, cfg.Token)

	var ks keys.Keystore = keystore.NewMemory()
	if cfg.KeyDir != "" {
		ks = keystore.NewFile(cfg.KeyDir)
	} else {
		logger.Warn("PARKSHARE_KEY_DIR not set, device key will not survive this process")
	}

	session, err := client.Connect(ctx, client.Options{
		UserID:   cfg.UserID,
		API:      apiClient,
		Keystore: ks,
		Dial: client.RealtimeDialer(realtime.Config{
			URL:                cfg.RealtimeURL,
			Token:              cfg.Token,
			DeviceID:           cfg.DeviceID,
			InsecureSkipVerify: cfg.Insecure,
			HeartbeatInterval:  cfg.Heartbeat,
			DialRetries:        3,
		}, logger),
		Handlers: printHandlers(cfg.UserID),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	switch cmd := args[0]; cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		archived := fs.Bool("archived", false, "list archived conversations")
		query := fs.String("q", "", "search text")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return list(ctx, session, api.ListOptions{Archived: *archived, Query: *query})

	case "open":
		conv, err := argID(args, 1)
		if err != nil {
			return err
		}
		return open(ctx, session, conv)

	case "send":
		conv, err := argID(args, 1)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return sharedErrors.ErrInvalidParams
		}
		entry, err := session.Send(ctx, conv, strings.Join(args[2:], " "), nil)
		if err != nil {
			return err
		}
		fmt.Printf("sent #%d (%s)\n", entry.ID, entry.Status)
		return nil

	case "new":
		peer, err := argID(args, 1)
		if err != nil {
			return err
		}
		if len(args) < 4 {
			return sharedErrors.ErrInvalidParams
		}
		view, err := session.StartConversation(ctx, []int64{peer}, args[2], strings.Join(args[3:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("conversation #%d created\n", view.ID)
		return nil

	case "star", "mute", "archive":
		conv, err := argID(args, 1)
		if err != nil {
			return err
		}
		view, err := session.ToggleFlag(ctx, conv, model.ConversationFlag(cmd), nil)
		if err != nil {
			return err
		}
		fmt.Printf("#%d starred=%v muted=%v archived=%v\n", view.ID, view.Flags.Starred, view.Flags.Muted, view.Flags.Archived)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func list(ctx context.Context, s *client.Session, opts api.ListOptions) error {
	views, err := s.Conversations(ctx, opts)
	if err != nil {
		return err
	}
	for _, v := range views {
		preview := ""
		if v.LastMessage != nil {
			preview = codec.Preview(v.LastMessage.Preview)
			if preview == "" {
				preview = "(encrypted message)"
			}
		}
		marker := " "
		if v.Flags.Starred {
			marker = "*"
		}
		fmt.Printf("%s #%-6d %-24s unread=%-3d %s\n", marker, v.ID, v.Subject, v.Unread, preview)
	}
	return nil
}

// open 打开会话并进入交互模式：标准输入每行发送一条消息，/retry 重发失败消息
func open(ctx context.Context, s *client.Session, conv int64) error {
	result, err := s.OpenConversation(ctx, conv)
	if err != nil {
		return err
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.CloseConversation(leaveCtx, conv)
	}()

	for _, e := range result.Entries {
		printEntry(s.UserID(), e)
	}
	if result.Warning != nil {
		fmt.Printf("(%d messages could not be decrypted on this device)\n", result.Warning.Count)
	}
	if err := s.CryptoErr(); err != nil {
		fmt.Println("(secure messaging is unavailable on this device, read only)")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return sharedErrors.ErrNetworkFailure
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/retry" {
				retryFailed(ctx, s, conv)
				continue
			}
			if _, err := s.Send(ctx, conv, line, nil); err != nil {
				fmt.Println(describe(err))
			}
		}
	}
}

func retryFailed(ctx context.Context, s *client.Session, conv int64) {
	for _, e := range s.Pipeline().Timeline(conv) {
		if e.Status != model.StatusFailed {
			continue
		}
		if _, err := s.Retry(ctx, conv, e.TempID); err != nil {
			fmt.Println(describe(err))
		}
	}
}

func printHandlers(self int64) client.Handlers {
	return client.Handlers{
		OnMessage: func(e pipeline.Entry) {
			if e.SenderID != self {
				printEntry(self, e)
			}
		},
		OnStatus: func(e pipeline.Entry) {
			if e.SenderID == self {
				fmt.Printf("  #%d %s\n", e.ID, e.Status)
			}
		},
		OnTyping: func(ind proto.TypingIndicator) {
			if ind.Typing {
				fmt.Printf("  user %d is typing...\n", ind.UserID)
			}
		},
		OnPresence: func(rec model.PresenceRecord) {
			fmt.Printf("  user %d is %s\n", rec.UserID, rec.Status)
		},
		OnDisconnect: func() {
			fmt.Println("  connection lost")
		},
	}
}

func printEntry(self int64, e pipeline.Entry) {
	who := strconv.FormatInt(e.SenderID, 10)
	if e.SenderID == self {
		who = "me"
	}
	status := ""
	if e.SenderID == self {
		status = " [" + string(e.Status) + "]"
	}
	fmt.Printf("%s %-4s %s%s\n", e.Timestamp.Local().Format("15:04"), who, e.Text, status)
	for _, a := range e.Attachments {
		fmt.Printf("           📎 %s (%s) %s\n", a.Filename, a.MimeType, a.URL)
	}
}

// describe 错误提示，拉黑方向给出不同的说明
func describe(err error) string {
	switch sharedErrors.BlockDirection(err) {
	case sharedErrors.DirectionBlockedByMe:
		return "you blocked this user; unblock them to send messages"
	case sharedErrors.DirectionBlockedByThem:
		return "this user is not accepting messages from you"
	}
	switch {
	case sharedErrors.Is(err, sharedErrors.ErrRecipientNotReady):
		return "recipient hasn't set up secure messaging yet"
	case sharedErrors.Is(err, sharedErrors.ErrNetworkFailure):
		return "network error, message kept as failed (type /retry)"
	case sharedErrors.Is(err, sharedErrors.ErrTokenExpired), sharedErrors.Is(err, sharedErrors.ErrTokenInvalid):
		return "session expired, please sign in again"
	}
	return err.Error()
}

func argID(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, sharedErrors.ErrInvalidParams
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, sharedErrors.ErrInvalidParams.Wrap(err)
	}
	return id, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  chatclient list [-archived] [-q text]
  chatclient open <conversationId>
  chatclient send <conversationId> <text>
  chatclient new <userId> <subject> <text>
  chatclient star|mute|archive <conversationId>`)
}

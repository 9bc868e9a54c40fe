// cmd/server/chat.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Corphon/SceneChronicle/internal/app"
	"github.com/Corphon/SceneChronicle/internal/config"
	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

const chatHelp = `Commands:
  /image     generate a scene image now
  /memory    show the scenario memory
  /compress  run a compression check
  /help      show this help
  /quit      leave the chat`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a scenario in the terminal",
	Long: `Open an interactive session against a local scenario.

Character replies and scene images are printed as they arrive.
` + chatHelp,
	RunE: runChat,
}

// console prints session events above the readline prompt.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	names map[string]string
}

func (c *console) OnEvent(e conversation.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case conversation.EventMessageAppended, conversation.EventMessageReplaced:
		if e.Message == nil {
			return
		}
		c.printMessage(*e.Message)
	case conversation.EventMemoryUpdated:
		fmt.Fprintln(c.out, "· memory updated")
	case conversation.EventChatCleared:
		fmt.Fprintln(c.out, "· chat cleared")
	}
}

func (c *console) printMessage(m models.Message) {
	switch {
	case m.Sender == models.SenderUser:
		// 用户输入已在提示符中显示
	case m.Kind == models.KindImage && m.State == models.StatePending:
		fmt.Fprintln(c.out, "· painting the scene...")
	case m.Kind == models.KindImage:
		fmt.Fprintf(c.out, "[scene] %s\n", m.ImageURL)
	case m.State == models.StatePending:
		fmt.Fprintf(c.out, "· %s is typing...\n", c.name(m.CharacterID))
	case m.Sender == models.SenderSystem:
		fmt.Fprintf(c.out, "! %s\n", m.Text)
	default:
		fmt.Fprintf(c.out, "%s: %s\n", c.name(m.CharacterID), m.Text)
	}
}

func (c *console) name(id string) string {
	if n, ok := c.names[id]; ok {
		return n
	}
	return id
}

func runChat(cmd *cobra.Command, args []string) error {
	scenarioID, _ := cmd.Flags().GetString("scenario")
	check, _ := cmd.Flags().GetBool("check")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".scenechronicle_history"),
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	// 日志只写文件，避免打乱提示符
	utils.GetLogger().SetOutput(io.Discard)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	out := &console{out: rl.Stdout(), names: map[string]string{}}
	a, err := app.New(ctx, cfg, app.Options{Listeners: []conversation.Listener{out}})
	if err != nil {
		return err
	}
	defer a.Close()

	if check {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		available, err := a.LLM().Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("LLM connection failed: %w", err)
		}
		fmt.Fprintf(rl.Stdout(), "· LLM ok (%d models)\n", len(available))
	}

	characters, err := a.Repository().ListCharacters(ctx)
	if err != nil {
		return err
	}
	out.mu.Lock()
	for _, c := range characters {
		out.names[c.ID] = c.Name
	}
	out.mu.Unlock()

	session, err := a.Sessions().Get(ctx, scenarioID)
	if err != nil {
		return err
	}
	scenario := session.Scenario()
	fmt.Fprintf(rl.Stdout(), "== %s ==\n", scenario.Name)
	if scenario.Description != "" {
		fmt.Fprintln(rl.Stdout(), scenario.Description)
	}
	fmt.Fprintln(rl.Stdout(), "Type /help for commands.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runSlash(ctx, rl.Stdout(), session, line); quit {
				return nil
			}
			continue
		}

		turn, err := session.SubmitUserMessage(ctx, line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "! %v\n", err)
			continue
		}
		// 失败提示已通过事件打印
		_, _ = turn.Wait(ctx)
	}
}

// runSlash executes a console command and reports whether to quit.
func runSlash(ctx context.Context, w io.Writer, s *conversation.Session, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(w, chatHelp)
	case "/image":
		if err := s.ForceImage(); err != nil {
			fmt.Fprintf(w, "! %v\n", err)
		}
	case "/compress":
		if !s.TriggerCompressionCheck() {
			fmt.Fprintln(w, "· no window due (or already compressing)")
		}
	case "/memory":
		data, err := json.MarshalIndent(s.Memory(), "", "  ")
		if err != nil {
			fmt.Fprintf(w, "! %v\n", err)
			return false
		}
		fmt.Fprintln(w, string(data))
	default:
		fmt.Fprintf(w, "! unknown command %s\n", line)
	}
	return false
}
